package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/restquest/internal/affect"
	"github.com/MrWong99/restquest/internal/assistant"
	"github.com/MrWong99/restquest/internal/conversation"
	"github.com/MrWong99/restquest/internal/journal"
	"github.com/MrWong99/restquest/internal/observe"
	"github.com/MrWong99/restquest/internal/stream"
	"github.com/MrWong99/restquest/pkg/audio"
	"github.com/MrWong99/restquest/pkg/emotion"
	"github.com/MrWong99/restquest/pkg/provider/llm"
	"github.com/MrWong99/restquest/pkg/provider/stt"
	"github.com/MrWong99/restquest/pkg/provider/tts"
)

// errCaptureTimeout is reported when the recorder does not return within
// the join bound after being cancelled.
var errCaptureTimeout = errors.New("session: audio capture did not stop in time")

// loopState is owned by the capture loop.
type loopState struct {
	log       *slog.Logger
	lastTick  time.Time
	completed uint64
	announced int

	// speaking is closed when the current question has been spoken. The
	// prompt phase does not end before that.
	speaking chan struct{}

	// report delivers the outcome of the finalize task. The report phase
	// does not end before that.
	report chan reportOutcome

	capture *capture
	tasks   sync.WaitGroup
}

type reportOutcome struct {
	result   QuestionResult
	followUp string
}

// capture is one listening phase's audio recording.
type capture struct {
	cancel context.CancelFunc
	done   chan struct{}
	clip   audio.Clip
	err    error
}

// join waits up to grace for the recording to finish on its own, cancels
// it, then waits up to timeout for the recorder to return.
func (c *capture) join(grace, timeout time.Duration) (audio.Clip, error) {
	if grace > 0 {
		t := time.NewTimer(grace)
		select {
		case <-c.done:
		case <-t.C:
		}
		t.Stop()
	}
	c.cancel()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-c.done:
		return c.clip, c.err
	case <-t.C:
		return audio.Clip{}, errCaptureTimeout
	}
}

// Run executes the session and returns its result. Only a frame source that
// cannot be opened is an error ([ErrSourceUnavailable]); classifier,
// transcription, speech and LLM failures degrade the affected question.
//
// Cancelling ctx stops the session early: results recorded so far are
// persisted and returned together with the context error. Run may be called
// only once.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	res, err := (*Result)(nil), errors.New("session: already run")
	s.runOnce.Do(func() { res, err = s.run(ctx) })
	return res, err
}

func (s *Session) run(ctx context.Context) (_ *Result, err error) {
	ctx, span := observe.StartSpan(ctx, "session.run", trace.WithAttributes(observe.SessionAttr(s.id)))
	defer func() { observe.EndSpan(span, err) }()
	log := observe.Logger(ctx).With("session_id", s.id)

	streams, err := stream.New(ctx, s.comp.Opener, s.cfg.LiveTarget, s.cfg.Clips)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	s.started = s.now()
	machine := conversation.New(conversation.Config{
		PromptDuration:   s.cfg.PromptDuration,
		ResponseDuration: s.cfg.ResponseDuration,
		ReportDuration:   s.cfg.ReportDuration,
		Questions:        len(s.questions),
	}, s.started)
	s.mu.Lock()
	s.machine, s.streams = machine, streams
	s.mu.Unlock()

	if s.comp.Conversation != nil {
		if err := s.comp.Conversation.Reset(); err != nil {
			log.Warn("failed to reset conversation log", "err", err)
		}
	}

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	log.Info("session started",
		"questions", len(s.questions),
		"follow_ups", s.cfg.FollowUps,
		"blends", blendNames(s.resolver.Mixes()),
	)

	s.worker.Start(ctx)
	st := &loopState{log: log, lastTick: s.started, announced: -1}
	loopErr := s.loop(ctx, st)

	s.teardown(st)
	if err := streams.Close(); err != nil {
		log.Warn("failed to release frame sources", "err", err)
	}

	if loopErr != nil {
		log.Info("session stopped early", "answered", len(s.results), "err", loopErr)
		return s.finish(context.WithoutCancel(ctx), log, false), loopErr
	}
	return s.finish(ctx, log, true), nil
}

func (s *Session) loop(ctx context.Context, st *loopState) error {
	ticker := time.NewTicker(s.cfg.FrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if s.step(ctx, st) {
			return nil
		}
	}
}

// step runs one capture loop tick and reports whether the session is done.
// It never blocks on inference, audio or any remote call.
func (s *Session) step(ctx context.Context, st *loopState) bool {
	now := s.now()
	dt := now.Sub(st.lastTick).Seconds()
	st.lastTick = now

	ok, frame, exhausted := s.streams.Read()
	if ok && frame.Image != nil {
		regions, err := s.comp.Detector.Detect(ctx, frame)
		switch {
		case err != nil:
			st.log.Debug("face detection failed", "err", err)
		case len(regions) == 0:
			st.log.Debug("no face in frame", "seq", frame.Seq)
		default:
			s.worker.Submit(regions[0].Image)
		}
	}

	if n := s.worker.Completed(); n != st.completed {
		st.completed = n
		if d, ok := s.worker.Latest(); ok {
			s.smoother.Update(d)
		}
	}

	state := s.machine.State()
	if state == conversation.StateListening {
		if d, ok := s.worker.Latest(); ok {
			s.hist.Accumulate(d, dt)
		}
	}
	s.updateLive()

	if exhausted && s.machine.ForceFinalize(now) == conversation.SignalFinalize {
		s.finalize(ctx, st, now, true)
		return false
	}

	if st.report != nil {
		select {
		case out := <-st.report:
			st.report = nil
			s.applyReport(st, out)
		default:
			return false
		}
	}
	if st.speaking != nil && state == conversation.StatePrompt {
		select {
		case <-st.speaking:
			st.speaking = nil
		default:
			return false
		}
	}

	switch s.machine.Update(now) {
	case conversation.SignalReset:
		s.beginListening(ctx, st)
	case conversation.SignalFinalize:
		s.finalize(ctx, st, now, false)
	}

	snap := s.machine.Snapshot()
	if snap.State == conversation.StatePrompt && snap.Index > st.announced {
		s.announce(ctx, st, snap.Index)
	}
	return snap.State == conversation.StateDone
}

func (s *Session) updateLive() {
	label, avg := s.smoothedLabel()
	using := s.streams.UsingSubstitute()

	s.mu.Lock()
	s.live.label, s.live.score, s.live.average, s.live.usingClip = label.Name, label.Score, avg, using
	s.mu.Unlock()
}

// smoothedLabel resolves the moving average of the current question. Without
// any inference round yet it is unknown with a nil average.
func (s *Session) smoothedLabel() (affect.Label, emotion.Distribution) {
	if !s.smoother.HasData() {
		return affect.Label{Name: affect.UnknownLabel, Derived: map[string]float64{}}, nil
	}
	avg := s.smoother.Average()
	return s.resolver.PickLabel(avg), avg
}

// announce logs and speaks question idx and warms the worker up for the
// listening phase that follows.
func (s *Session) announce(ctx context.Context, st *loopState, idx int) {
	st.announced = idx
	q := s.questions[idx]
	st.log.Info("asking question", "index", idx, "question", q)
	s.addTurn(st.log, journal.RoleAssistant, q)

	s.mu.Lock()
	s.live.question = q
	s.mu.Unlock()

	if done := s.speakAsync(ctx, st, q); done != nil {
		st.speaking = done
	}
	if s.cfg.WarmupTimeout > 0 {
		st.tasks.Go(func() {
			if !s.worker.Warmup(s.cfg.WarmupSize, s.cfg.WarmupTimeout) {
				st.log.Debug("inference warm-up did not finish in time", "index", idx)
			}
		})
	}
}

func (s *Session) beginListening(ctx context.Context, st *loopState) {
	idx := s.machine.Index()
	s.worker.Reset()
	s.smoother.Reset()
	s.hist.Start()
	st.completed = s.worker.Completed()

	if err := s.streams.StartQuestion(ctx, idx); err != nil {
		st.log.Warn("failed to select response source", "index", idx, "err", err)
	}
	st.capture = s.startCapture(ctx)
	st.log.Debug("listening", "index", idx, "clip", s.streams.UsingSubstitute())
}

func (s *Session) startCapture(ctx context.Context) *capture {
	if s.comp.Recorder == nil {
		return nil
	}
	cctx, cancel := context.WithCancel(ctx)
	c := &capture{cancel: cancel, done: make(chan struct{})}

	g, gctx := errgroup.WithContext(cctx)
	g.Go(func() error {
		clip, err := s.comp.Recorder.Record(gctx, s.cfg.ResponseDuration)
		c.clip = clip
		return err
	})
	go func() {
		c.err = g.Wait()
		close(c.done)
	}()
	return c
}

// finalize closes the listening phase on the loop and hands the slow part
// (audio join, transcription, persistence, follow-up) to a report task.
func (s *Session) finalize(ctx context.Context, st *loopState, now time.Time, forced bool) {
	idx := s.machine.Index()
	spectrum := s.hist.Finalize()

	smoothed, _ := s.smoothedLabel()
	label := smoothed
	if s.hist.TotalWeight() > 0 {
		label = s.resolver.PickLabel(spectrum)
	}

	s.streams.FinishQuestion()
	s.metrics.RecordFinalization(ctx, forced)
	st.log.Info("question finalized",
		"index", idx,
		"label", label.Name,
		"smoothed_label", smoothed.Name,
		"confidence", label.Score,
		"forced", forced,
		"emotions", emotion.Format(spectrum, 3),
	)

	r := QuestionResult{
		Index:         idx,
		Question:      s.questions[idx],
		Label:         label.Name,
		SmoothedLabel: smoothed.Name,
		Confidence:    label.Score,
		Derived:       label.Derived,
		Spectrum:      spectrum,
		Forced:        forced,
		FinalizedAt:   now,
	}
	capt := st.capture
	st.capture = nil
	followUp := idx+1 >= len(s.questions) && s.generated < s.cfg.FollowUps
	history := slices.Clone(s.history)

	ch := make(chan reportOutcome, 1)
	st.report = ch
	st.tasks.Go(func() {
		ch <- s.report(ctx, st.log, r, capt, history, followUp)
	})
}

func (s *Session) report(ctx context.Context, log *slog.Logger, r QuestionResult, c *capture, history []llm.Message, followUp bool) reportOutcome {
	var clip audio.Clip
	if c != nil {
		grace := s.cfg.AudioGrace
		if r.Forced {
			grace = 0
		}
		var err error
		clip, err = c.join(grace, s.cfg.JoinTimeout)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("audio capture failed", "index", r.Index, "err", err)
		}
	}
	r.Transcript, r.AudioPath = s.transcribe(ctx, log, r.Index, clip)

	if s.comp.Store != nil {
		if err := s.comp.Store.AppendResult(ctx, r.record(s.id)); err != nil {
			log.Warn("failed to persist question result", "index", r.Index, "err", err)
		}
	}

	out := reportOutcome{result: r}
	if !followUp {
		return out
	}
	if r.Transcript != "" {
		history = append(history, llm.Message{Role: llm.RoleUser, Content: r.Transcript})
	}
	if s.comp.Assistant == nil {
		out.followUp = assistant.DefaultFallbackQuestion
		return out
	}
	q, fellBack := s.comp.Assistant.FollowUp(ctx, history)
	if fellBack {
		log.Info("using fallback follow-up question", "index", r.Index+1)
	}
	out.followUp = q
	return out
}

// transcribe turns the clip into text. A transcriber lacking the required
// capability keeps the raw audio in the archive instead.
func (s *Session) transcribe(ctx context.Context, log *slog.Logger, idx int, clip audio.Clip) (text, archived string) {
	if clip.Empty() {
		log.Warn("no audio captured for this question", "index", idx)
		return "", ""
	}
	if s.comp.Transcriber == nil {
		return "", s.archive(log, idx, clip)
	}

	tctx, span := observe.StartSpan(ctx, "session.transcribe", trace.WithAttributes(observe.SessionAttr(s.id)))
	start := time.Now()
	tr, err := s.comp.Transcriber.Transcribe(tctx, clip, stt.Options{Language: s.cfg.Language})
	s.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	observe.EndSpan(span, err)
	switch {
	case errors.Is(err, stt.ErrCapabilityMissing):
		log.Warn("transcriber lacks a required capability, keeping raw audio", "index", idx, "err", err)
		return "", s.archive(log, idx, clip)
	case err != nil:
		log.Warn("transcription failed", "index", idx, "err", err)
		return "", ""
	}
	return strings.TrimSpace(tr.Text), ""
}

func (s *Session) archive(log *slog.Logger, idx int, clip audio.Clip) string {
	if s.comp.Archive == nil {
		return ""
	}
	path, err := s.comp.Archive.SaveClip(clip)
	if err != nil {
		log.Warn("failed to archive audio", "index", idx, "err", err)
		return ""
	}
	log.Info("raw audio archived", "index", idx, "path", path)
	return path
}

// applyReport records a finished question on the loop.
func (s *Session) applyReport(st *loopState, out reportOutcome) {
	r := out.result
	s.results = append(s.results, r)
	s.addTurn(st.log, journal.RoleUser, r.Transcript)

	if out.followUp != "" {
		s.questions = append(s.questions, out.followUp)
		s.generated++
		s.machine.SetQuestionCount(len(s.questions))
	}

	s.mu.Lock()
	s.live.answered = len(s.results)
	s.mu.Unlock()

	if s.onResult != nil {
		s.onResult(r)
	}
}

// addTurn appends a line to the conversation log and the transcript. Only
// non-empty text enters the LLM history.
func (s *Session) addTurn(log *slog.Logger, role, text string) {
	if s.comp.Conversation != nil {
		if err := s.comp.Conversation.Append(role, text); err != nil {
			log.Warn("failed to append to conversation log", "err", err)
		}
	}
	shown := text
	if shown == "" && role == journal.RoleUser {
		shown = journal.NoTranscript
	}
	s.turns = append(s.turns, journal.Turn{Role: role, Text: shown})
	if text == "" {
		return
	}
	msgRole := llm.RoleUser
	if role == journal.RoleAssistant {
		msgRole = llm.RoleAssistant
	}
	s.history = append(s.history, llm.Message{Role: msgRole, Content: text})
}

// speakAsync synthesises and plays line in the background. It returns nil
// when no speaker is configured.
func (s *Session) speakAsync(ctx context.Context, st *loopState, line string) chan struct{} {
	if s.comp.Speaker == nil {
		return nil
	}
	done := make(chan struct{})
	st.tasks.Go(func() {
		defer close(done)
		s.say(ctx, st.log, line)
	})
	return done
}

// say speaks line and returns within SpeechTimeout even when the speaker or
// player ignores cancellation.
func (s *Session) say(ctx context.Context, log *slog.Logger, line string) {
	if s.comp.Speaker == nil || line == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SpeechTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.speak(ctx, log, line)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			log.Warn("speech did not finish in time, moving on", "timeout", s.cfg.SpeechTimeout)
		}
	}
}

func (s *Session) speak(ctx context.Context, log *slog.Logger, line string) {
	ctx, span := observe.StartSpan(ctx, "session.speak")
	var err error
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	data, err := tts.Synthesize(ctx, s.comp.Speaker, line, s.cfg.Voice)
	s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		log.Warn("speech synthesis failed", "err", err)
		return
	}
	if s.comp.Player == nil {
		return
	}
	if err = s.comp.Player.Play(ctx, data); err != nil {
		log.Warn("playback failed", "err", err)
	}
}

// teardown stops the worker and joins every background task, each with a
// bounded wait.
func (s *Session) teardown(st *loopState) {
	if st.capture != nil {
		st.capture.cancel()
	}
	if err := s.worker.Stop(s.cfg.JoinTimeout); err != nil {
		st.log.Warn("inference worker did not stop", "err", err)
	}

	done := make(chan struct{})
	go func() {
		st.tasks.Wait()
		close(done)
	}()
	t := time.NewTimer(s.cfg.JoinTimeout)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		st.log.Warn("background tasks did not finish in time")
		return
	}

	// A report that finished after the loop stopped is still recorded.
	if st.report != nil {
		select {
		case out := <-st.report:
			s.applyReport(st, out)
		default:
		}
		st.report = nil
	}
}

// finish speaks the closing line (for a complete session), persists the
// summary files and asks for the recommendation.
func (s *Session) finish(ctx context.Context, log *slog.Logger, complete bool) *Result {
	res := &Result{
		ID:        s.id,
		StartedAt: s.started,
		Questions: slices.Clone(s.results),
		Overall:   Overall(s.results),
		Complete:  complete,
	}
	res.OverallDominant, _ = res.Overall.Dominant()

	if complete {
		s.addTurn(log, journal.RoleAssistant, s.cfg.ClosingLine)
		s.say(ctx, log, s.cfg.ClosingLine)
	}

	for _, q := range res.Questions {
		log.Info("question summary",
			"index", q.Index,
			"question", q.Question,
			"transcript", cmp.Or(q.Transcript, journal.NoTranscript),
			"emotions", emotion.Format(q.Spectrum, 3),
			"dominant", q.Label,
		)
	}

	if s.cfg.AnswersPath != "" {
		answers := make([]journal.Answer, 0, len(res.Questions))
		for _, q := range res.Questions {
			answers = append(answers, journal.Answer{Question: q.Question, Transcript: q.Transcript, DominantEmotion: q.Label})
		}
		if err := journal.WriteAnswers(s.cfg.AnswersPath, answers); err != nil {
			log.Warn("failed to save answers", "err", err)
		} else {
			res.AnswersPath = s.cfg.AnswersPath
		}
	}

	if complete && s.comp.Assistant != nil {
		reply, fellBack := s.comp.Assistant.Recommend(ctx, s.history, res.Answers(), res.Overall)
		res.Recommendation, res.Structured, res.RecommendationFellBack = reply.Text, reply.Recommendation, fellBack
		s.addTurn(log, journal.RoleAssistant, reply.Text)
	}

	if s.cfg.TranscriptPath != "" {
		if err := journal.WriteTranscript(s.cfg.TranscriptPath, s.started, s.turns); err != nil {
			log.Warn("failed to save transcript", "err", err)
		} else {
			res.TranscriptPath = s.cfg.TranscriptPath
		}
	}

	res.FinishedAt = s.now()
	if s.comp.Store != nil {
		info := journal.SessionInfo{
			ID:             s.id,
			StartedAt:      res.StartedAt,
			FinishedAt:     res.FinishedAt,
			Questions:      len(res.Questions),
			Overall:        res.Overall,
			Recommendation: res.Recommendation,
		}
		if err := s.comp.Store.SaveSession(ctx, info); err != nil {
			log.Warn("failed to persist session", "err", err)
		}
	}
	log.Info("session finished",
		"answered", len(res.Questions),
		"complete", complete,
		"overall", emotion.Format(res.Overall, 3),
		"overall_dominant", res.OverallDominant,
	)
	return res
}

func blendNames(mixes []affect.Mix) []string {
	out := make([]string, 0, len(mixes))
	for _, m := range mixes {
		out = append(out, m.Label+"="+m.Components[0]+"+"+m.Components[1])
	}
	return out
}
