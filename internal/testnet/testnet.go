package testnet

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/Masterminds/semver/v3"

	"github.com/permaskills/skills/internal/dataitem"
	"github.com/permaskills/skills/internal/manifest"
	"github.com/permaskills/skills/internal/wallet"
)

// ProcessID is the registry process id the network answers for.
const ProcessID = "permaskills-test-process"

// PricePerByte is the winston price charged per stored byte on the paid path.
const PricePerByte = 1000

// Network is a fake registry plus storage gateway.
type Network struct {
	server *httptest.Server

	mu        sync.Mutex
	skills    map[string]map[string]*manifest.Skill
	blobs     map[string]blob
	results   map[string]envelope
	balances  map[string]int64
	downloads map[string]int
	queries   int
	paid      int
	free      int
}

type blob struct {
	data        []byte
	contentType string
}

type message struct {
	Data string        `json:"Data"`
	Tags dataitem.Tags `json:"Tags"`
}

type envelope struct {
	Messages []message `json:"Messages"`
	Error    string    `json:"Error,omitempty"`
}

// New starts a network that is shut down when the test ends.
func New(t testing.TB) *Network {
	t.Helper()
	n := &Network{
		skills:    map[string]map[string]*manifest.Skill{},
		blobs:     map[string]blob{},
		results:   map[string]envelope{},
		balances:  map[string]int64{},
		downloads: map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /cu/dry-run", n.handleDryRun)
	mux.HandleFunc("GET /cu/result/{id}", n.handleResult)
	mux.HandleFunc("POST /mu/", n.handleMessage)
	mux.HandleFunc("POST /bundler/tx", n.handleUpload(false))
	mux.HandleFunc("POST /gw/tx", n.handleUpload(true))
	mux.HandleFunc("GET /gw/price/{bytes}", n.handlePrice)
	mux.HandleFunc("GET /gw/wallet/{address}/balance", n.handleBalance)
	mux.HandleFunc("GET /gw/tx/{id}/status", n.handleStatus)
	mux.HandleFunc("GET /gw/{id}", n.handleDownload)

	n.server = httptest.NewServer(mux)
	t.Cleanup(n.server.Close)
	return n
}

// CUURL is the compute unit endpoint (reads and results).
func (n *Network) CUURL() string { return n.server.URL + "/cu" }

// MUURL is the messenger unit endpoint (writes).
func (n *Network) MUURL() string { return n.server.URL + "/mu" }

// GatewayURL is the storage gateway endpoint.
func (n *Network) GatewayURL() string { return n.server.URL + "/gw" }

// BundlerURL is the free-tier bundler endpoint.
func (n *Network) BundlerURL() string { return n.server.URL + "/bundler" }

// Fund sets the winston balance of a wallet address.
func (n *Network) Fund(address string, winston int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balances[address] = winston
}

// Store puts data on the gateway under id with the given content type.
func (n *Network) Store(id string, data []byte, contentType string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blobs[id] = blob{data: data, contentType: contentType}
}

// Register indexes a skill directly, bypassing signed messages.
func (n *Network) Register(s manifest.Skill) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.register(&s)
}

// Queries returns the number of dry-run queries served.
func (n *Network) Queries() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.queries
}

// Downloads returns how often id was fetched from the gateway.
func (n *Network) Downloads(id string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.downloads[id]
}

// Uploads returns the number of paid and free uploads accepted.
func (n *Network) Uploads() (paid, free int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.paid, n.free
}

func (n *Network) register(s *manifest.Skill) {
	versions, ok := n.skills[s.Name]
	if !ok {
		versions = map[string]*manifest.Skill{}
		n.skills[s.Name] = versions
	}
	versions[s.Version] = s
}

// latest returns the highest registered version of name.
func (n *Network) latest(name string) *manifest.Skill {
	var best *manifest.Skill
	var bestVer *semver.Version
	for raw, s := range n.skills[name] {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		if bestVer == nil || v.GreaterThan(bestVer) {
			best, bestVer = s, v
		}
	}
	return best
}

func (n *Network) versions(name string) []string {
	out := make([]string, 0, len(n.skills[name]))
	for v := range n.skills[name] {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (n *Network) withVersions(s *manifest.Skill) manifest.Skill {
	out := *s
	out.Versions = n.versions(s.Name)
	return out
}

func (n *Network) handleDryRun(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("process-id") != ProcessID {
		http.Error(w, "unknown process", http.StatusBadRequest)
		return
	}
	var req struct {
		Tags dataitem.Tags `json:"Tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.queries++

	switch req.Tags.Value("Action") {
	case "Get-Skill":
		name, version := req.Tags.Value("Name"), req.Tags.Value("Version")
		var s *manifest.Skill
		if version == "" {
			s = n.latest(name)
		} else {
			s = n.skills[name][version]
		}
		if s == nil {
			writeJSON(w, envelope{Messages: []message{}})
			return
		}
		writeJSON(w, reply(n.withVersions(s), "Skill"))
	case "Search-Skills":
		q := strings.ToLower(req.Tags.Value("Query"))
		found := []manifest.Skill{}
		for _, name := range n.names() {
			s := n.latest(name)
			if strings.Contains(strings.ToLower(s.Name), q) || strings.Contains(strings.ToLower(s.Description), q) {
				found = append(found, n.withVersions(s))
			}
		}
		if len(found) == 0 {
			writeJSON(w, envelope{Messages: []message{}})
			return
		}
		writeJSON(w, reply(found, "Search-Results"))
	case "List-Skills":
		all := []manifest.Skill{}
		for _, name := range n.names() {
			all = append(all, n.withVersions(n.latest(name)))
		}
		writeJSON(w, reply(map[string]any{"skills": all, "total": len(all)}, "Skill-List"))
	case "Info":
		writeJSON(w, reply(map[string]any{
			"name":       "Permaskills Test Registry",
			"version":    "1.0.0",
			"skillCount": len(n.skills),
			"handlers":   []string{"Search-Skills", "Get-Skill", "List-Skills", "Info", "Register-Skill", "Update-Skill"},
		}, "Info-Response"))
	default:
		writeJSON(w, envelope{Messages: []message{{
			Tags: dataitem.Tags{{Name: "Action", Value: "Error"}, {Name: "Error", Value: "unknown action"}},
		}}})
	}
}

func (n *Network) names() []string {
	names := make([]string, 0, len(n.skills))
	for name := range n.skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func reply(data any, action string) envelope {
	b, _ := json.Marshal(data)
	return envelope{Messages: []message{{Data: string(b), Tags: dataitem.Tags{{Name: "Action", Value: action}}}}}
}

// handleMessage accepts a signed Register-Skill or Update-Skill item and
// stores the registry's reply for the result endpoint.
func (n *Network) handleMessage(w http.ResponseWriter, r *http.Request) {
	var item dataitem.Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := item.Verify(wallet.Verify); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.results[item.ID] = n.process(&item)
	writeJSON(w, map[string]string{"id": item.ID})
}

func (n *Network) process(item *dataitem.Item) envelope {
	fail := func(msg string) envelope {
		return envelope{Messages: []message{{
			Tags: dataitem.Tags{{Name: "Action", Value: "Error"}, {Name: "Error", Value: msg}},
		}}}
	}

	action := item.Tags.Value("Action")
	raw, err := item.RawData()
	if err != nil {
		return fail("undecodable payload")
	}
	var s manifest.Skill
	if err := json.Unmarshal(raw, &s); err != nil {
		return fail("payload is not a skill")
	}
	s.Owner = item.Owner

	existing := n.latest(s.Name)
	switch action {
	case "Register-Skill":
		if existing != nil {
			return fail("skill " + s.Name + " already registered")
		}
	case "Update-Skill":
		if existing == nil {
			return fail("skill " + s.Name + " not registered")
		}
		if existing.Owner != item.Owner {
			return fail("not the owner of " + s.Name)
		}
		if _, dup := n.skills[s.Name][s.Version]; dup {
			return fail("version " + s.Version + " already registered")
		}
	default:
		return fail("unsupported action " + action)
	}

	n.register(&s)
	done := "Skill-Registered"
	if action == "Update-Skill" {
		done = "Skill-Updated"
	}
	return envelope{Messages: []message{{
		Data: `{"success":true}`,
		Tags: dataitem.Tags{
			{Name: "Action", Value: done},
			{Name: "Name", Value: s.Name},
			{Name: "Version", Value: s.Version},
		},
	}}}
}

func (n *Network) handleResult(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	env, ok := n.results[r.PathValue("id")]
	n.mu.Unlock()
	if !ok {
		writeJSON(w, envelope{Messages: []message{}})
		return
	}
	writeJSON(w, env)
}

func (n *Network) handleUpload(paid bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var item dataitem.Item
		if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := item.Verify(wallet.Verify); err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		data, err := item.RawData()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		n.mu.Lock()
		defer n.mu.Unlock()
		if paid {
			n.paid++
		} else {
			n.free++
		}
		n.blobs[item.ID] = blob{data: data, contentType: item.Tags.Value("Content-Type")}
		writeJSON(w, map[string]string{"id": item.ID})
	}
}

func (n *Network) handlePrice(w http.ResponseWriter, r *http.Request) {
	size, err := strconv.ParseInt(r.PathValue("bytes"), 10, 64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_, _ = w.Write([]byte(strconv.FormatInt(size*PricePerByte, 10)))
}

func (n *Network) handleBalance(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	balance := n.balances[r.PathValue("address")]
	n.mu.Unlock()
	_, _ = w.Write([]byte(strconv.FormatInt(balance, 10)))
}

func (n *Network) handleStatus(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	_, ok := n.blobs[r.PathValue("id")]
	n.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]int64{"block_height": 1_000_000, "number_of_confirmations": 25})
}

func (n *Network) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n.mu.Lock()
	b, ok := n.blobs[id]
	if ok {
		n.downloads[id]++
	}
	n.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", b.contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(b.data)))
	_, _ = w.Write(b.data)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
