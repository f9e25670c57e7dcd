package proxy

import (
	"strings"

	"github.com/rennerdo30/proxyreg/internal/option"
)

// Field identifies one backing option of a proxy.
type Field int

// Proxy fields, in persisted order.
const (
	FieldType Field = iota
	FieldIPv6
	FieldAddress
	FieldPort
	FieldUsername
	FieldPassword

	NumFields
)

// Type is the protocol spoken by a proxy.
type Type int

// Proxy types.
const (
	TypeHTTP Type = iota
	TypeSOCKS4
	TypeSOCKS5

	NumTypes
)

var typeNames = [NumTypes]string{"http", "socks4", "socks5"}

type fieldInfo struct {
	name string
	spec option.Spec
	def  string
}

// fields maps each Field to its key suffix, option rules and default literal.
var fields = [NumFields]fieldInfo{
	FieldType: {
		name: "type",
		spec: option.Spec{
			Kind:        option.Integer,
			Description: "proxy type (http (default), socks4, socks5)",
			Values:      typeNames[:],
		},
		def: "http",
	},
	FieldIPv6: {
		name: "ipv6",
		spec: option.Spec{Kind: option.Boolean, Description: "connect to proxy using ipv6"},
		def:  "off",
	},
	FieldAddress: {
		name: "address",
		spec: option.Spec{Kind: option.String, Description: "proxy server address (IP or hostname)"},
		def:  "127.0.0.1",
	},
	FieldPort: {
		name: "port",
		spec: option.Spec{Kind: option.Integer, Description: "port for connecting to proxy server", Min: 0, Max: 65535},
		def:  "3128",
	},
	FieldUsername: {
		name: "username",
		spec: option.Spec{Kind: option.String, Description: "username for proxy server"},
		def:  "",
	},
	FieldPassword: {
		name: "password",
		spec: option.Spec{Kind: option.String, Description: "password for proxy server"},
		def:  "",
	},
}

// String returns the persisted name of the field.
func (f Field) String() string {
	if f < 0 || f >= NumFields {
		return "unknown"
	}
	return fields[f].name
}

// Default returns the literal used when the field is missing from the
// configuration.
func (f Field) Default() string {
	if f < 0 || f >= NumFields {
		return ""
	}
	return fields[f].def
}

// Spec returns the option rules of the field.
func (f Field) Spec() option.Spec {
	if f < 0 || f >= NumFields {
		return option.Spec{}
	}
	return fields[f].spec
}

// String returns the persisted name of the type.
func (t Type) String() string {
	if t < 0 || t >= NumTypes {
		return "unknown"
	}
	return typeNames[t]
}

// FindOption returns the field whose name matches name, ignoring case.
func FindOption(name string) (Field, bool) {
	for f := Field(0); f < NumFields; f++ {
		if strings.EqualFold(fields[f].name, name) {
			return f, true
		}
	}
	return 0, false
}

// FindType returns the type whose name matches name, ignoring case.
func FindType(name string) (Type, bool) {
	for t := Type(0); t < NumTypes; t++ {
		if strings.EqualFold(typeNames[t], name) {
			return t, true
		}
	}
	return 0, false
}

// FieldNames returns the persisted field names in order.
func FieldNames() []string {
	names := make([]string, NumFields)
	for f := Field(0); f < NumFields; f++ {
		names[f] = fields[f].name
	}
	return names
}

// key returns the qualified option key "<name>.<field>".
func key(name string, f Field) string {
	return name + "." + fields[f].name
}

// splitKey splits a qualified option key at its first dot.
func splitKey(qualified string) (name, field string, ok bool) {
	return strings.Cut(qualified, ".")
}
