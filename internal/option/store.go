package option

import (
	"fmt"
	"slices"
)

// Store holds option sections in creation order.
// It is not safe for concurrent use.
type Store struct {
	sections []*Section
	byName   map[string]*Section
}

// NewStore creates an empty option store.
func NewStore() *Store {
	return &Store{
		byName: make(map[string]*Section),
	}
}

// Section returns the named section, creating it on first use.
func (s *Store) Section(name string) *Section {
	if sec, ok := s.byName[name]; ok {
		return sec
	}
	sec := &Section{
		name:  name,
		index: make(map[string]*Option),
	}
	s.sections = append(s.sections, sec)
	s.byName[name] = sec
	return sec
}

// Sections returns all sections in creation order.
func (s *Store) Sections() []*Section {
	return slices.Clone(s.sections)
}

// ChangeFunc is called after an option value changes through a notifying Set.
type ChangeFunc func(opt *Option)

// Section is an ordered group of options with unique keys.
type Section struct {
	name     string
	options  []*Option
	index    map[string]*Option
	onChange []ChangeFunc
}

// Name returns the section name.
func (s *Section) Name() string {
	return s.name
}

// OnChange registers fn to run when an option of this section changes.
func (s *Section) OnChange(fn ChangeFunc) {
	s.onChange = append(s.onChange, fn)
}

// Create adds a new option with key and the given default literal, which is
// also its initial value. It fails if the key is empty or already used in the
// section, or if the literal does not validate against spec.
func (s *Section) Create(key string, spec Spec, defaultLiteral string) (*Option, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	if _, exists := s.index[key]; exists {
		return nil, fmt.Errorf("%w: %s.%s", ErrOptionExists, s.name, key)
	}

	v, err := parse(spec, defaultLiteral, value{})
	if err != nil {
		return nil, fmt.Errorf("option %s.%s: %w", s.name, key, err)
	}

	opt := &Option{
		key:      key,
		spec:     spec,
		def:      defaultLiteral,
		intValue: v.i,
		strValue: v.s,
		section:  s,
	}
	s.options = append(s.options, opt)
	s.index[key] = opt
	return opt, nil
}

// Rename changes the key of opt. It never fails: a key already held by another
// option is taken over by opt.
func (s *Section) Rename(opt *Option, key string) {
	if opt == nil || opt.section != s || key == "" || key == opt.key {
		return
	}
	if s.index[opt.key] == opt {
		delete(s.index, opt.key)
	}
	opt.key = key
	s.index[key] = opt
}

// Set validates literal and stores it as the value of opt. When notify is true
// and the value changed, change callbacks run.
func (s *Section) Set(opt *Option, literal string, notify bool) error {
	if opt == nil || opt.section != s {
		return ErrNotLive
	}

	v, err := parse(opt.spec, literal, value{i: opt.intValue, s: opt.strValue})
	if err != nil {
		return fmt.Errorf("option %s.%s: %w", s.name, opt.key, err)
	}

	changed := v.i != opt.intValue || v.s != opt.strValue
	opt.intValue = v.i
	opt.strValue = v.s

	if changed && notify {
		for _, fn := range s.onChange {
			fn(opt)
		}
	}
	return nil
}

// Free removes opt from the section. Freeing an option twice is a no-op.
func (s *Section) Free(opt *Option) {
	if opt == nil || opt.section != s {
		return
	}
	if s.index[opt.key] == opt {
		delete(s.index, opt.key)
	}
	if i := slices.Index(s.options, opt); i >= 0 {
		s.options = slices.Delete(s.options, i, i+1)
	}
	opt.section = nil
}

// Lookup returns the option with key, or nil.
func (s *Section) Lookup(key string) *Option {
	return s.index[key]
}

// Options returns the live options in creation order.
func (s *Section) Options() []*Option {
	return slices.Clone(s.options)
}

// Len returns the number of live options.
func (s *Section) Len() int {
	return len(s.options)
}
