package broker

import (
	"sort"
	"strings"
	"sync"
)

// Builder constructs a Broker from credentials.
type Builder func(creds Credentials) (Broker, error)

// Info is static venue metadata the factory serves without connecting.
type Info struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	AssetClasses []AssetClass `json:"asset_classes"`
	Capabilities Capabilities `json:"capabilities"`
	PaperTrading bool         `json:"paper_trading"`
	Website      string       `json:"website"`
}

var (
	registryMu sync.RWMutex
	builders   = make(map[string]Builder)
	infos      = make(map[string]Info)
)

// Register associates a builder and metadata with a broker id. Adapters
// call this from init; duplicate registration panics.
func Register(info Info, builder Builder) {
	id := strings.ToLower(strings.TrimSpace(info.ID))
	if id == "" || builder == nil {
		panic("broker: Register requires an id and a builder")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := builders[id]; dup {
		panic("broker: duplicate registration for " + id)
	}
	info.ID = id
	builders[id] = builder
	infos[id] = info
}

// New constructs the adapter registered under id.
func New(id string, creds Credentials) (Broker, error) {
	key := strings.ToLower(strings.TrimSpace(id))
	registryMu.RLock()
	builder, ok := builders[key]
	registryMu.RUnlock()
	if !ok {
		return nil, &UnknownBrokerError{ID: id, Valid: IDs()}
	}
	return builder(creds)
}

// IDs returns the registered broker identifiers in sorted order.
func IDs() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ids := make([]string, 0, len(builders))
	for id := range builders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Infos returns metadata for every registered broker, sorted by id. No
// venue connection is made.
func Infos() []Info {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Info, 0, len(infos))
	for _, info := range infos {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Lookup returns metadata for a single broker id.
func Lookup(id string) (Info, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	info, ok := infos[strings.ToLower(strings.TrimSpace(id))]
	return info, ok
}
