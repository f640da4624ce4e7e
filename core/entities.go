package core

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
)

// Field-name precedence lists for raw-log entity lookup. The first non-empty
// field wins.
var (
	IPFields       = []string{"source_ip", "ip", "ip_address", "src_ip"}
	UserFields     = []string{"user", "username", "user_name", "account"}
	AssetFields    = []string{"asset", "host", "hostname", "system", "device"}
	AttemptsFields = []string{"failed_attempts", "attempts", "failed_logins", "login_attempts"}
)

var privateNetworks = mustParseCIDRs("10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16")

// Entities are the identifiers extracted from an alert's raw log.
type Entities struct {
	IP             string `json:"ip,omitempty"`
	User           string `json:"user,omitempty"`
	Asset          string `json:"asset,omitempty"`
	FailedAttempts int    `json:"failed_attempts"`
}

// HasIP reports whether a source IP was found
func (e Entities) HasIP() bool { return e.IP != "" }

// HasUser reports whether a user identifier was found
func (e Entities) HasUser() bool { return e.User != "" }

// HasAsset reports whether an asset identifier was found
func (e Entities) HasAsset() bool { return e.Asset != "" }

// Correlatable reports whether the alert can join on IP or user.
func (e Entities) Correlatable() bool { return e.HasIP() || e.HasUser() }

// ExtractEntities reads the IP, user, asset and failed-attempt count from a raw
// log. Missing or malformed fields yield zero values, never errors.
func ExtractEntities(raw map[string]interface{}) Entities {
	return Entities{
		IP:             FirstString(raw, IPFields...),
		User:           FirstString(raw, UserFields...),
		Asset:          FirstString(raw, AssetFields...),
		FailedAttempts: FirstInt(raw, AttemptsFields...),
	}
}

// FirstString returns the first non-empty string value among keys.
func FirstString(raw map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case fmt.Stringer:
			s = t.String()
		case float64, int, int64, json.Number:
			s = fmt.Sprint(t)
		default:
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// FirstInt returns the first numeric value among keys. Numeric strings are accepted.
func FirstInt(raw map[string]interface{}, keys ...string) int {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case int:
			return t
		case int32:
			return int(t)
		case int64:
			return int(t)
		case uint64:
			if t > math.MaxInt32 {
				return math.MaxInt32
			}
			return int(t)
		case float64:
			return int(t)
		case json.Number:
			if n, err := t.Int64(); err == nil {
				return int(n)
			}
			if f, err := t.Float64(); err == nil {
				return int(f)
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
				return n
			}
		}
	}
	return 0
}

// IsPrivateIP reports whether ip falls inside 10/8, 172.16/12 or 192.168/16.
// Values that do not parse as an IP are not private.
func IsPrivateIP(ip string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	for _, network := range privateNetworks {
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		networks = append(networks, network)
	}
	return networks
}
