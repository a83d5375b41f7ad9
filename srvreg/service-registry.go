package srvreg

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/ahmadzakiakmal/estatechain/errs"
	"github.com/ahmadzakiakmal/estatechain/ledger"
	"github.com/ahmadzakiakmal/estatechain/state"
)

// Request is a read-only query against committed state
type Request struct {
	Path   string
	Params map[string]string
	Store  state.Reader
	Height int64
	Time   time.Time
}

// Param returns a path parameter by name
func (r *Request) Param(name string) string {
	return r.Params[name]
}

// IDParam parses a numeric path parameter
func (r *Request) IDParam(name string) (uint64, error) {
	id, err := state.ParseID(r.Param(name))
	if err != nil {
		return 0, errs.New(errs.InvalidInput, "%s: %v", name, err)
	}
	return id, nil
}

// AddressParam parses an account path parameter
func (r *Request) AddressParam(name string) (ledger.Address, error) {
	addr, err := ledger.ParseAddress(r.Param(name))
	if err != nil {
		return ledger.ZeroAddress, errs.New(errs.InvalidInput, "%s: %v", name, err)
	}
	return addr, nil
}

// Now returns the time of the last committed block in unix seconds
func (r *Request) Now() int64 {
	return r.Time.Unix()
}

// ServiceHandler is a function type for query handlers. The returned value
// is encoded as JSON.
type ServiceHandler func(*Request) (any, error)

// ServiceRegistry manages all query handlers
type ServiceRegistry struct {
	handlers    map[string]ServiceHandler
	exactRoutes map[string]bool // Whether a route is exact or pattern-based
	mu          sync.RWMutex
	logger      cmtlog.Logger
}

// NewServiceRegistry creates a new service registry
func NewServiceRegistry(logger cmtlog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		handlers:    make(map[string]ServiceHandler),
		exactRoutes: make(map[string]bool),
		logger:      logger,
	}
}

// RegisterHandler registers a new query handler
func (sr *ServiceRegistry) RegisterHandler(path string, isExactPath bool, handler ServiceHandler) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	sr.handlers[path] = handler
	sr.exactRoutes[path] = isExactPath
}

// Routes lists the registered paths
func (sr *ServiceRegistry) Routes() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	routes := make([]string, 0, len(sr.handlers))
	for path := range sr.handlers {
		routes = append(routes, path)
	}
	return routes
}

// GetHandlerForPath finds the handler for a path together with the
// parameters captured from it
func (sr *ServiceRegistry) GetHandlerForPath(path string) (ServiceHandler, map[string]string, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	// Try exact match first
	if handler, ok := sr.handlers[path]; ok && sr.exactRoutes[path] {
		return handler, map[string]string{}, true
	}

	// Try pattern matching
	for pattern, handler := range sr.handlers {
		if sr.exactRoutes[pattern] {
			continue
		}
		if params, ok := matchPath(pattern, path); ok {
			return handler, params, true
		}
	}

	return nil, nil, false
}

// matchPath does simple pattern matching for routes.
// It supports patterns like "/property/:id" matching "/property/123"
func matchPath(pattern, path string) (map[string]string, bool) {
	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")

	if len(patternParts) != len(pathParts) {
		return nil, false
	}

	params := make(map[string]string)
	for i := range len(patternParts) {
		if strings.HasPrefix(patternParts[i], ":") {
			if pathParts[i] == "" {
				return nil, false
			}
			params[patternParts[i][1:]] = pathParts[i]
			continue
		}

		if patternParts[i] != pathParts[i] {
			return nil, false
		}
	}

	return params, true
}

// Serve routes a query and encodes the handler's answer
func (sr *ServiceRegistry) Serve(req *Request) ([]byte, error) {
	handler, params, found := sr.GetHandlerForPath(req.Path)
	if !found {
		return nil, errs.New(errs.NotFound, "no query handler for %s", req.Path)
	}
	req.Params = params

	result, err := handler(req)
	if err != nil {
		sr.logger.Debug("query failed", "path", req.Path, "err", err)
		return nil, err
	}
	out, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", req.Path, err)
	}
	return out, nil
}
