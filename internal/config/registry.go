package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/restquest/pkg/provider/classifier"
	"github.com/MrWong99/restquest/pkg/provider/llm"
	"github.com/MrWong99/restquest/pkg/provider/stt"
	"github.com/MrWong99/restquest/pkg/provider/tts"
	"github.com/MrWong99/restquest/pkg/vision"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories is the name → constructor table of one provider kind.
type factories[T any] struct {
	kind string
	m    map[string]func(ProviderEntry) (T, error)
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]func(ProviderEntry) (T, error))}
}

func (f factories[T]) create(mu *sync.RWMutex, entry ProviderEntry) (T, error) {
	mu.RLock()
	factory, ok := f.m[entry.Name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	v, err := factory(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s/%q: %w", f.kind, entry.Name, err)
	}
	return v, nil
}

func (f factories[T]) names(mu *sync.RWMutex) []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(f.m))
	for name := range f.m {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use. Registering a name twice
// overwrites the earlier factory.
type Registry struct {
	mu         sync.RWMutex
	llm        factories[llm.Provider]
	stt        factories[stt.Provider]
	tts        factories[tts.Provider]
	classifier factories[classifier.Provider]
	detector   factories[vision.Detector]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        newFactories[llm.Provider]("llm"),
		stt:        newFactories[stt.Provider]("stt"),
		tts:        newFactories[tts.Provider]("tts"),
		classifier: newFactories[classifier.Provider]("classifier"),
		detector:   newFactories[vision.Detector]("detector"),
	}
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = factory
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.m[name] = factory
}

// RegisterClassifier registers an emotion classifier factory under name.
func (r *Registry) RegisterClassifier(name string, factory func(ProviderEntry) (classifier.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifier.m[name] = factory
}

// RegisterDetector registers a face detector factory under name.
func (r *Registry) RegisterDetector(name string, factory func(ProviderEntry) (vision.Detector, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detector.m[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return r.llm.create(&r.mu, entry)
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return r.stt.create(&r.mu, entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return r.tts.create(&r.mu, entry)
}

// CreateClassifier instantiates a classifier using the factory registered under entry.Name.
func (r *Registry) CreateClassifier(entry ProviderEntry) (classifier.Provider, error) {
	return r.classifier.create(&r.mu, entry)
}

// CreateDetector instantiates a detector using the factory registered under entry.Name.
func (r *Registry) CreateDetector(entry ProviderEntry) (vision.Detector, error) {
	return r.detector.create(&r.mu, entry)
}

// Names returns the sorted registered names for kind ("llm", "stt", "tts",
// "classifier" or "detector"). Unknown kinds yield nil.
func (r *Registry) Names(kind string) []string {
	switch kind {
	case "llm":
		return r.llm.names(&r.mu)
	case "stt":
		return r.stt.names(&r.mu)
	case "tts":
		return r.tts.names(&r.mu)
	case "classifier":
		return r.classifier.names(&r.mu)
	case "detector":
		return r.detector.names(&r.mu)
	}
	return nil
}
