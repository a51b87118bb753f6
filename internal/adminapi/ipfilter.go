package adminapi

import (
	"fmt"
	"net/http"
	"net/netip"

	"github.com/0xReLogic/recettes/internal/logging"
	"github.com/0xReLogic/recettes/internal/utils"
)

// IPFilter restricts access by client address. Deny entries win over allow
// entries; an empty allow list admits every address not denied.
type IPFilter struct {
	allowList []netip.Prefix
	denyList  []netip.Prefix
	ips       *utils.ClientIPResolver
}

// NewIPFilter creates a filter from CIDR ranges or single addresses. ips
// decides which address a request comes from; nil means the socket peer.
func NewIPFilter(allowList, denyList []string, ips *utils.ClientIPResolver) (*IPFilter, error) {
	filter := &IPFilter{
		allowList: make([]netip.Prefix, 0, len(allowList)),
		denyList:  make([]netip.Prefix, 0, len(denyList)),
		ips:       ips,
	}
	for _, entry := range allowList {
		p, err := utils.ParsePrefix(entry)
		if err != nil {
			return nil, fmt.Errorf("allow list: %w", err)
		}
		filter.allowList = append(filter.allowList, p)
	}
	for _, entry := range denyList {
		p, err := utils.ParsePrefix(entry)
		if err != nil {
			return nil, fmt.Errorf("deny list: %w", err)
		}
		filter.denyList = append(filter.denyList, p)
	}
	return filter, nil
}

// IsAllowed reports whether ip passes the filter. Unparseable addresses never do.
func (f *IPFilter) IsAllowed(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, p := range f.denyList {
		if p.Contains(addr) {
			return false
		}
	}
	if len(f.allowList) == 0 {
		return true
	}
	for _, p := range f.allowList {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Middleware answers 403 to clients the filter rejects
func (f *IPFilter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := f.ips.ClientIP(r)
		if !f.IsAllowed(clientIP) {
			logging.WithContext(r.Context()).Warn().
				Str("client_ip", clientIP).
				Str("path", r.URL.Path).
				Msg("IP blocked by filter")
			_ = utils.WriteError(w, http.StatusForbidden, "ip address not allowed")
			return
		}
		next.ServeHTTP(w, r)
	})
}
