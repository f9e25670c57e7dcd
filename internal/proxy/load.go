package proxy

import (
	"fmt"
	"slices"

	"github.com/rennerdo30/proxyreg/internal/option"
)

// Staged is a proxy being read from configuration. Any of its options may still
// be missing. Staged proxies are never visible through Registry lookups.
type Staged struct {
	name    string
	options [NumFields]*option.Option
}

// Name returns the staged proxy name.
func (s *Staged) Name() string {
	return s.name
}

// Has reports whether field f has been staged.
func (s *Staged) Has(f Field) bool {
	return f >= 0 && f < NumFields && s.options[f] != nil
}

// complete reports whether all fields are present.
func (s *Staged) complete() bool {
	return !slices.Contains(s.options[:], nil)
}

// Load accumulates proxy fields during configuration load and promotes them
// into the registry on Commit.
type Load struct {
	reg    *Registry
	staged []*Staged
	byName map[string]*Staged
}

// LoadResult reports the outcome of a Commit.
type LoadResult struct {
	Promoted  []string
	Discarded []string
}

// BeginLoad starts a staged load into r.
func (r *Registry) BeginLoad() *Load {
	return &Load{
		reg:    r,
		byName: make(map[string]*Staged),
	}
}

// Record returns the staged proxy called name, appending a new one on first
// sight. It returns nil for an empty name.
func (l *Load) Record(name string) *Staged {
	if name == "" {
		return nil
	}
	if s, ok := l.byName[name]; ok {
		return s
	}
	s := &Staged{name: name}
	l.staged = append(l.staged, s)
	l.byName[name] = s
	return s
}

// StageField creates the backing option of field f on s. When f is already
// staged its value is replaced, so the last occurrence wins.
func (l *Load) StageField(s *Staged, f Field, value string) error {
	if s == nil {
		return ErrEmptyName
	}
	if f < 0 || f >= NumFields {
		return newError(s.name, "stage", ErrUnknownProperty)
	}

	if opt := s.options[f]; opt != nil {
		if err := l.reg.opts.Set(opt, value, false); err != nil {
			return newError(s.name, "stage "+f.String(), err)
		}
		return nil
	}

	opt, err := newOption(l.reg.opts, s.name, f, value)
	if err != nil {
		return newError(s.name, "stage "+f.String(), err)
	}
	s.options[f] = opt
	return nil
}

// StageOption stages a value addressed by its qualified key "<name>.<field>".
func (l *Load) StageOption(qualified, value string) error {
	name, field, ok := splitKey(qualified)
	if !ok || name == "" {
		return fmt.Errorf("%w: %q is not a qualified option key", ErrEmptyName, qualified)
	}
	f, ok := FindOption(field)
	if !ok {
		return newError(name, "stage", fmt.Errorf("%w: %q", ErrUnknownProperty, field))
	}
	return l.StageField(l.Record(name), f, value)
}

// Commit backfills missing fields with their defaults and appends every
// complete staged proxy to the registry, handing over its options. A proxy
// that cannot be completed, or whose name is already in the registry, is
// dropped and its options are freed. The load is empty afterwards, so a
// second Commit does nothing.
func (l *Load) Commit() LoadResult {
	var res LoadResult

	for _, s := range l.staged {
		for f := Field(0); f < NumFields; f++ {
			if s.options[f] != nil {
				continue
			}
			opt, err := newOption(l.reg.opts, s.name, f, fields[f].def)
			if err != nil {
				l.reg.logger.Warn("Failed to apply proxy default",
					"proxy", s.name,
					"option", f.String(),
					"error", err,
				)
				continue
			}
			s.options[f] = opt
		}

		if !s.complete() || l.reg.Get(s.name) != nil {
			reason := "incomplete"
			if s.complete() {
				reason = "name in use"
			}
			l.reg.logger.Warn("Discarding staged proxy", "proxy", s.name, "reason", reason)
			freeOptions(l.reg.opts, &s.options)
			res.Discarded = append(res.Discarded, s.name)
			continue
		}

		l.reg.add(&Proxy{name: s.name, options: s.options})
		s.options = [NumFields]*option.Option{}
		res.Promoted = append(res.Promoted, s.name)
	}

	l.reset()
	return res
}

// Abort frees everything staged so far without touching the registry.
func (l *Load) Abort() {
	for _, s := range l.staged {
		freeOptions(l.reg.opts, &s.options)
	}
	l.reset()
}

func (l *Load) reset() {
	l.staged = nil
	l.byName = make(map[string]*Staged)
}

// Len returns the number of staged proxies.
func (l *Load) Len() int {
	return len(l.staged)
}

// Names returns the staged proxy names in order of first sight.
func (l *Load) Names() []string {
	names := make([]string, len(l.staged))
	for i, s := range l.staged {
		names[i] = s.name
	}
	return names
}

// Err returns ErrIncomplete wrapped with the discarded proxy names, or nil
// when nothing was discarded.
func (res LoadResult) Err() error {
	if len(res.Discarded) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrIncomplete, res.Discarded)
}
