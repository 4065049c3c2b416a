package browser

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

const redacted = "[redacted]"

var sensitiveHeaders = map[string]bool{
	"cookie":              true,
	"set-cookie":          true,
	"authorization":       true,
	"proxy-authorization": true,
}

// HAR is an HTTP Archive 1.2 document.
type HAR struct {
	Log HARLog `json:"log"`
}

type HARLog struct {
	Version string     `json:"version"`
	Creator HARCreator `json:"creator"`
	Entries []HAREntry `json:"entries"`
}

type HARCreator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type HAREntry struct {
	StartedDateTime string      `json:"startedDateTime"`
	Time            float64     `json:"time"`
	Request         HARRequest  `json:"request"`
	Response        HARResponse `json:"response"`
	Cache           struct{}    `json:"cache"`
	Timings         HARTimings  `json:"timings"`
	ResourceType    string      `json:"_resourceType,omitempty"`
	Error           string      `json:"_error,omitempty"`
}

type HARNameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HARRequest carries request metadata only; bodies are never recorded.
type HARRequest struct {
	Method      string         `json:"method"`
	URL         string         `json:"url"`
	HTTPVersion string         `json:"httpVersion"`
	Headers     []HARNameValue `json:"headers"`
	QueryString []HARNameValue `json:"queryString"`
	Cookies     []HARNameValue `json:"cookies"`
	HeadersSize int            `json:"headersSize"`
	BodySize    int            `json:"bodySize"`
}

type HARResponse struct {
	Status      int            `json:"status"`
	StatusText  string         `json:"statusText"`
	HTTPVersion string         `json:"httpVersion"`
	Headers     []HARNameValue `json:"headers"`
	Cookies     []HARNameValue `json:"cookies"`
	Content     HARContent     `json:"content"`
	RedirectURL string         `json:"redirectURL"`
	HeadersSize int            `json:"headersSize"`
	BodySize    int            `json:"bodySize"`
}

type HARContent struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
}

type HARTimings struct {
	Send    float64 `json:"send"`
	Wait    float64 `json:"wait"`
	Receive float64 `json:"receive"`
}

type harPending struct {
	entry     HAREntry
	started   time.Time
	responded time.Time
	done      bool
}

// HARRecorder builds a HAR from CDP network events.
type HARRecorder struct {
	mu      sync.Mutex
	order   []*harPending
	pending map[proto.NetworkRequestID]*harPending
	now     func() time.Time
}

// NewHARRecorder creates an empty recorder.
func NewHARRecorder() *HARRecorder {
	return &HARRecorder{
		pending: make(map[proto.NetworkRequestID]*harPending),
		now:     time.Now,
	}
}

func (h *HARRecorder) OnRequest(e *proto.NetworkRequestWillBeSent) {
	if e == nil || e.Request == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	if prev, ok := h.pending[e.RequestID]; ok {
		// Redirect: the same request id is reused for the next hop.
		if e.RedirectResponse != nil {
			prev.entry.Response = harResponse(e.RedirectResponse)
			prev.entry.Response.RedirectURL = e.Request.URL
		}
		h.finish(prev, now)
	}

	p := &harPending{
		started: now,
		entry: HAREntry{
			StartedDateTime: now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			Request: HARRequest{
				Method:      e.Request.Method,
				URL:         e.Request.URL,
				HTTPVersion: "HTTP/1.1",
				Headers:     harHeaders(e.Request.Headers),
				QueryString: queryString(e.Request.URL),
				Cookies:     []HARNameValue{},
				HeadersSize: -1,
				BodySize:    -1,
			},
			Response:     HARResponse{Headers: []HARNameValue{}, Cookies: []HARNameValue{}, HeadersSize: -1, BodySize: -1},
			ResourceType: string(e.Type),
		},
	}
	h.pending[e.RequestID] = p
	h.order = append(h.order, p)
}

func (h *HARRecorder) OnResponse(e *proto.NetworkResponseReceived) {
	if e == nil || e.Response == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.pending[e.RequestID]
	if !ok {
		return
	}
	p.responded = h.now()
	p.entry.Response = harResponse(e.Response)
}

func (h *HARRecorder) OnFinished(e *proto.NetworkLoadingFinished) {
	if e == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.pending[e.RequestID]
	if !ok {
		return
	}
	p.entry.Response.BodySize = int(e.EncodedDataLength)
	p.entry.Response.Content.Size = int(e.EncodedDataLength)
	h.finish(p, h.now())
	delete(h.pending, e.RequestID)
}

func (h *HARRecorder) OnFailed(e *proto.NetworkLoadingFailed) {
	if e == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.pending[e.RequestID]
	if !ok {
		return
	}
	p.entry.Error = e.ErrorText
	h.finish(p, h.now())
	delete(h.pending, e.RequestID)
}

// finish fills in timings. Callers hold h.mu.
func (h *HARRecorder) finish(p *harPending, end time.Time) {
	if p.done {
		return
	}
	p.done = true
	total := ms(end.Sub(p.started))
	p.entry.Time = total
	if !p.responded.IsZero() {
		p.entry.Timings.Wait = ms(p.responded.Sub(p.started))
		p.entry.Timings.Receive = ms(end.Sub(p.responded))
	} else {
		p.entry.Timings.Wait = total
	}
}

// Len returns the number of recorded requests.
func (h *HARRecorder) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.order)
}

// Build returns the archive as it stands. Requests still in flight are
// included with the timings known so far.
func (h *HARRecorder) Build() *HAR {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := make([]HAREntry, 0, len(h.order))
	now := h.now()
	for _, p := range h.order {
		e := p.entry
		if !p.done {
			e.Time = ms(now.Sub(p.started))
		}
		entries = append(entries, e)
	}
	return &HAR{Log: HARLog{
		Version: "1.2",
		Creator: HARCreator{Name: "openexplorer", Version: "1.0"},
		Entries: entries,
	}}
}

// WriteFile writes the archive as indented JSON, creating parent dirs.
func (h *HARRecorder) WriteFile(path string) error {
	data, err := json.MarshalIndent(h.Build(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func harResponse(r *proto.NetworkResponse) HARResponse {
	return HARResponse{
		Status:      r.Status,
		StatusText:  r.StatusText,
		HTTPVersion: httpVersion(r.Protocol),
		Headers:     harHeaders(r.Headers),
		Cookies:     []HARNameValue{},
		Content:     HARContent{MimeType: r.MIMEType},
		HeadersSize: -1,
		BodySize:    -1,
	}
}

// harHeaders converts and sorts headers, redacting credentials.
func harHeaders(headers proto.NetworkHeaders) []HARNameValue {
	out := make([]HARNameValue, 0, len(headers))
	for name, v := range headers {
		value := v.Str()
		if sensitiveHeaders[strings.ToLower(name)] {
			value = redacted
		}
		out = append(out, HARNameValue{Name: name, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func queryString(raw string) []HARNameValue {
	out := []HARNameValue{}
	u, err := url.Parse(raw)
	if err != nil {
		return out
	}
	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range q[k] {
			out = append(out, HARNameValue{Name: k, Value: v})
		}
	}
	return out
}

func httpVersion(protocol string) string {
	switch strings.ToLower(protocol) {
	case "h2":
		return "HTTP/2.0"
	case "h3", "h3-29":
		return "HTTP/3.0"
	case "http/1.0":
		return "HTTP/1.0"
	}
	return "HTTP/1.1"
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
