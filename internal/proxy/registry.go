package proxy

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/rennerdo30/proxyreg/internal/logging"
	"github.com/rennerdo30/proxyreg/internal/option"
)

// Registry holds committed proxies in creation order with unique names.
type Registry struct {
	opts    Options
	logger  *slog.Logger
	proxies []*Proxy
	byName  map[string]*Proxy
}

// NewRegistry creates an empty registry whose proxies are backed by opts.
// A nil logger uses the "proxy" component logger.
func NewRegistry(opts Options, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = logging.WithComponent("proxy")
	}
	return &Registry{
		opts:   opts,
		logger: logger,
		byName: make(map[string]*Proxy),
	}
}

// Get returns the proxy named name, or nil.
func (r *Registry) Get(name string) *Proxy {
	if name == "" {
		return nil
	}
	return r.byName[name]
}

// FindByOptionName returns the proxy owning a qualified option key such as
// "local.address", or nil.
func (r *Registry) FindByOptionName(qualified string) *Proxy {
	name, _, ok := splitKey(qualified)
	if !ok {
		return nil
	}
	return r.Get(name)
}

// ValidateName checks that name can be used as a proxy name. Option keys are
// split at the first dot, so a name must not contain one.
func ValidateName(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if strings.Contains(name, ".") {
		return newError(name, "validate", ErrInvalidName)
	}
	return nil
}

// Create adds a proxy with the given field literals at the end of the registry.
// It fails without leaving any option behind if name is invalid or taken, if
// typ is not a known type, or if any field literal is rejected.
func (r *Registry) Create(name, typ, ipv6, address, port, username, password string) (*Proxy, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if r.Get(name) != nil {
		return nil, newError(name, "create", ErrProxyExists)
	}
	if _, ok := FindType(typ); !ok {
		return nil, newError(name, "create", ErrInvalidType)
	}

	literals := [NumFields]string{
		FieldType:     typ,
		FieldIPv6:     ipv6,
		FieldAddress:  address,
		FieldPort:     port,
		FieldUsername: username,
		FieldPassword: password,
	}

	p := &Proxy{name: name}
	for f := Field(0); f < NumFields; f++ {
		opt, err := newOption(r.opts, name, f, literals[f])
		if err != nil {
			freeOptions(r.opts, &p.options)
			return nil, newError(name, "create", err)
		}
		p.options[f] = opt
	}

	r.add(p)
	r.logger.Debug("Proxy created", "proxy", name, "type", p.Type().String())
	return p, nil
}

// add appends p to the registry.
func (r *Registry) add(p *Proxy) {
	r.proxies = append(r.proxies, p)
	r.byName[p.name] = p
}

// Rename renames p and rewrites the keys of all its options. An empty name is
// ignored. Rename does not check that name is free; callers must.
func (r *Registry) Rename(p *Proxy, name string) {
	if p == nil || name == "" || name == p.name {
		return
	}
	for f := Field(0); f < NumFields; f++ {
		r.opts.Rename(p.options[f], key(name, f))
	}
	if r.byName[p.name] == p {
		delete(r.byName, p.name)
	}
	r.logger.Debug("Proxy renamed", "proxy", p.name, "new_name", name)
	p.name = name
	r.byName[name] = p
}

// Set changes one property of p: "name" or one of the field names, ignoring
// case. Field values are validated by the option service. Renaming to a name
// containing a dot fails with ErrInvalidName, and onto a name held by another
// proxy with ErrProxyExists. An empty name is ignored.
func (r *Registry) Set(p *Proxy, property, value string) error {
	if p == nil {
		return ErrProxyNotFound
	}

	if strings.EqualFold(property, "name") {
		if value != "" && strings.Contains(value, ".") {
			return newError(p.name, "rename", ErrInvalidName)
		}
		if other := r.Get(value); other != nil && other != p {
			return newError(p.name, "rename", ErrProxyExists)
		}
		r.Rename(p, value)
		return nil
	}

	f, ok := FindOption(property)
	if !ok {
		return newError(p.name, "set", ErrUnknownProperty)
	}
	if err := r.opts.Set(p.options[f], value, true); err != nil {
		return newError(p.name, "set "+f.String(), err)
	}
	return nil
}

// Delete removes p from the registry and frees its options. Proxies that are
// not in the registry are ignored.
func (r *Registry) Delete(p *Proxy) {
	if p == nil {
		return
	}
	i := slices.Index(r.proxies, p)
	if i < 0 {
		return
	}
	r.proxies = slices.Delete(r.proxies, i, i+1)
	if r.byName[p.name] == p {
		delete(r.byName, p.name)
	}
	freeOptions(r.opts, &p.options)
	r.logger.Debug("Proxy deleted", "proxy", p.name)
}

// DeleteAll removes every proxy.
func (r *Registry) DeleteAll() {
	for len(r.proxies) > 0 {
		r.Delete(r.proxies[0])
	}
}

// All returns the proxies in registry order.
func (r *Registry) All() []*Proxy {
	return slices.Clone(r.proxies)
}

// Names returns the proxy names in registry order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.proxies))
	for i, p := range r.proxies {
		names[i] = p.name
	}
	return names
}

// Len returns the number of proxies.
func (r *Registry) Len() int {
	return len(r.proxies)
}

// neighbors returns the proxies before and after the one at index i.
func (r *Registry) neighbors(i int) (prev, next *Proxy) {
	if i > 0 {
		prev = r.proxies[i-1]
	}
	if i+1 < len(r.proxies) {
		next = r.proxies[i+1]
	}
	return prev, next
}

// Owner returns the committed proxy backed by opt, or nil.
func (r *Registry) Owner(opt *option.Option) *Proxy {
	if opt == nil {
		return nil
	}
	p := r.FindByOptionName(opt.Key())
	if p == nil || !slices.Contains(p.options[:], opt) {
		return nil
	}
	return p
}
