// Package proxy provides the named proxy registry for proxyreg.
//
// A Registry holds committed proxies in creation order. Every proxy owns six
// backing options, one per Field, keyed "<name>.<field>" in an option section.
// Configuration load goes through a Load, which stages fields as they arrive
// and promotes complete proxies into the Registry on Commit.
//
// Registry and Load are not safe for concurrent use; callers serialize access.
package proxy

import (
	"github.com/rennerdo30/proxyreg/internal/option"
)

// Options is the option service backing proxy fields.
// *option.Section implements it.
type Options interface {
	Create(key string, spec option.Spec, defaultLiteral string) (*option.Option, error)
	Rename(opt *option.Option, key string)
	Set(opt *option.Option, literal string, notify bool) error
	Free(opt *option.Option)
}

// Proxy is a committed proxy definition.
type Proxy struct {
	name    string
	options [NumFields]*option.Option
}

// Name returns the proxy name.
func (p *Proxy) Name() string {
	return p.name
}

// Option returns the backing option of field f.
func (p *Proxy) Option(f Field) *option.Option {
	if f < 0 || f >= NumFields {
		return nil
	}
	return p.options[f]
}

// Type returns the proxy protocol.
func (p *Proxy) Type() Type {
	return Type(p.options[FieldType].Integer())
}

// IPv6 reports whether the proxy is reached over IPv6.
func (p *Proxy) IPv6() bool {
	return p.options[FieldIPv6].Boolean()
}

// Address returns the proxy server address.
func (p *Proxy) Address() string {
	return p.options[FieldAddress].Text()
}

// Port returns the proxy server port.
func (p *Proxy) Port() int {
	return p.options[FieldPort].Integer()
}

// Username returns the proxy username.
func (p *Proxy) Username() string {
	return p.options[FieldUsername].Text()
}

// Password returns the proxy password.
func (p *Proxy) Password() string {
	return p.options[FieldPassword].Text()
}

// Info is a point-in-time view of a proxy.
type Info struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	IPv6     bool   `json:"ipv6" yaml:"ipv6"`
	Address  string `json:"address" yaml:"address"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

// Snapshot returns the current values of the proxy.
func (p *Proxy) Snapshot() Info {
	return Info{
		Name:     p.name,
		Type:     p.Type().String(),
		IPv6:     p.IPv6(),
		Address:  p.Address(),
		Port:     p.Port(),
		Username: p.Username(),
		Password: p.Password(),
	}
}

// Sanitized returns the info with the password masked.
func (i Info) Sanitized() Info {
	if i.Password != "" {
		i.Password = "********"
	}
	return i
}

// newOption creates the backing option for field f of proxy name.
func newOption(opts Options, name string, f Field, literal string) (*option.Option, error) {
	return opts.Create(key(name, f), fields[f].spec, literal)
}

// freeOptions releases every non-nil option and clears the slots.
func freeOptions(opts Options, options *[NumFields]*option.Option) {
	for f := range options {
		if options[f] != nil {
			opts.Free(options[f])
			options[f] = nil
		}
	}
}
