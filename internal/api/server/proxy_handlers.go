package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rennerdo30/proxyreg/internal/option"
	"github.com/rennerdo30/proxyreg/internal/proxy"
)

// CreateProxyRequest is the body of POST /api/v1/proxies. Omitted fields
// take their defaults.
type CreateProxyRequest struct {
	Name     string  `json:"name"`
	Type     string  `json:"type,omitempty"`
	IPv6     *bool   `json:"ipv6,omitempty"`
	Address  *string `json:"address,omitempty"`
	Port     *int    `json:"port,omitempty"`
	Username string  `json:"username,omitempty"`
	Password string  `json:"password,omitempty"`
}

// literals returns the field literals in registry order.
func (req CreateProxyRequest) literals() (typ, ipv6, address, port string) {
	typ = req.Type
	if typ == "" {
		typ = proxy.FieldType.Default()
	}
	ipv6 = proxy.FieldIPv6.Default()
	if req.IPv6 != nil {
		ipv6 = strconv.FormatBool(*req.IPv6)
	}
	address = proxy.FieldAddress.Default()
	if req.Address != nil {
		address = *req.Address
	}
	port = proxy.FieldPort.Default()
	if req.Port != nil {
		port = strconv.Itoa(*req.Port)
	}
	return typ, ipv6, address, port
}

// PropertyUpdate sets one property of a proxy.
type PropertyUpdate struct {
	Property string `json:"property"`
	Value    string `json:"value"`
}

// SetPropertyRequest is the body of PUT /api/v1/proxies/{name}/{property}.
type SetPropertyRequest struct {
	Value string `json:"value"`
}

// OptionInfo describes one backing option of a proxy.
type OptionInfo struct {
	Key         string   `json:"key"`
	Proxy       string   `json:"proxy"`
	Kind        string   `json:"kind"`
	Value       string   `json:"value"`
	Default     string   `json:"default"`
	Description string   `json:"description,omitempty"`
	Values      []string `json:"values,omitempty"`
	Min         int      `json:"min,omitempty"`
	Max         int      `json:"max,omitempty"`
}

func (a *API) handleListProxies(w http.ResponseWriter, r *http.Request) {
	var infos []proxy.Info
	_ = a.backend.Do(func(reg *proxy.Registry) error {
		infos = make([]proxy.Info, 0, reg.Len())
		for _, p := range reg.All() {
			infos = append(infos, p.Snapshot().Sanitized())
		}
		return nil
	})
	a.writeJSON(w, http.StatusOK, infos)
}

func (a *API) handleGetProxy(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")

	var info proxy.Info
	err := a.backend.Do(func(reg *proxy.Registry) error {
		p := reg.Get(name)
		if p == nil {
			return proxy.ErrProxyNotFound
		}
		info = p.Snapshot().Sanitized()
		return nil
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, info)
}

func (a *API) handleCreateProxy(w http.ResponseWriter, r *http.Request) {
	var req CreateProxyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "Invalid request body",
			"message": err.Error(),
		})
		return
	}

	typ, ipv6, address, port := req.literals()

	var info proxy.Info
	err := a.backend.Do(func(reg *proxy.Registry) error {
		p, err := reg.Create(req.Name, typ, ipv6, address, port, req.Username, req.Password)
		if err != nil {
			return err
		}
		info = p.Snapshot().Sanitized()
		return nil
	})
	a.record("create", err)
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.logger.Info("Proxy created", "proxy", info.Name, "type", info.Type)
	a.writeJSON(w, http.StatusCreated, info)
}

func (a *API) handleUpdateProxy(w http.ResponseWriter, r *http.Request) {
	var updates []PropertyUpdate
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "Invalid request body",
			"message": err.Error(),
		})
		return
	}
	a.applyUpdates(w, pathParam(r, "name"), updates)
}

func (a *API) handleSetProperty(w http.ResponseWriter, r *http.Request) {
	var req SetPropertyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "Invalid request body",
			"message": err.Error(),
		})
		return
	}
	a.applyUpdates(w, pathParam(r, "name"), []PropertyUpdate{
		{Property: pathParam(r, "property"), Value: req.Value},
	})
}

// applyUpdates sets properties in order and stops at the first failure.
// Updates applied before the failure are kept.
func (a *API) applyUpdates(w http.ResponseWriter, name string, updates []PropertyUpdate) {
	var info proxy.Info
	err := a.backend.Do(func(reg *proxy.Registry) error {
		p := reg.Get(name)
		if p == nil {
			return proxy.ErrProxyNotFound
		}
		for _, u := range updates {
			if strings.EqualFold(u.Property, "name") && u.Value == "" {
				return proxy.ErrEmptyName
			}
			if err := reg.Set(p, u.Property, u.Value); err != nil {
				return err
			}
		}
		info = p.Snapshot().Sanitized()
		return nil
	})
	a.record("set", err)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, info)
}

func (a *API) handleDeleteProxy(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")

	err := a.backend.Do(func(reg *proxy.Registry) error {
		p := reg.Get(name)
		if p == nil {
			return proxy.ErrProxyNotFound
		}
		reg.Delete(p)
		return nil
	})
	a.record("delete", err)
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.logger.Info("Proxy deleted", "proxy", name)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGetOption(w http.ResponseWriter, r *http.Request) {
	field := pathParam(r, "field")
	qualified := pathParam(r, "name") + "." + field

	var info OptionInfo
	err := a.backend.Do(func(reg *proxy.Registry) error {
		p := reg.FindByOptionName(qualified)
		if p == nil {
			return proxy.ErrProxyNotFound
		}
		f, ok := proxy.FindOption(field)
		if !ok {
			return proxy.ErrUnknownProperty
		}
		info = optionInfo(p, f)
		return nil
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, info)
}

// pathParam returns the unescaped route parameter. chi matches on the raw
// path, so an escaped "/" in a name arrives as "%2F".
func pathParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func optionInfo(p *proxy.Proxy, f proxy.Field) OptionInfo {
	opt := p.Option(f)
	spec := opt.Spec()
	info := OptionInfo{
		Key:         opt.Key(),
		Proxy:       p.Name(),
		Kind:        spec.Kind.String(),
		Value:       opt.Literal(),
		Default:     f.Default(),
		Description: spec.Description,
		Values:      spec.Values,
		Min:         spec.Min,
		Max:         spec.Max,
	}
	if f == proxy.FieldPassword && info.Value != "" {
		info.Value = "********"
	}
	return info
}

func (a *API) record(op string, err error) {
	if a.metrics != nil {
		a.metrics.RecordOperation(op, err)
	}
}

// writeError maps registry errors to HTTP status codes.
func (a *API) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, proxy.ErrProxyNotFound):
		status = http.StatusNotFound
	case errors.Is(err, proxy.ErrProxyExists):
		status = http.StatusConflict
	case errors.Is(err, proxy.ErrEmptyName),
		errors.Is(err, proxy.ErrInvalidName),
		errors.Is(err, proxy.ErrInvalidType),
		errors.Is(err, proxy.ErrUnknownProperty),
		errors.Is(err, option.ErrInvalidValue):
		status = http.StatusBadRequest
	}

	a.writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"proxy": proxy.ProxyName(err),
	})
}
