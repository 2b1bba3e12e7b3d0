package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"PromptToVideo-server/models"
	"PromptToVideo-server/service/gateway"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeGateway 可编排的模型网关：按 req.Name / Label 返回结果，并记录全部调用。
// 生成的图片内容就是它的 Label，方便断言引用图的来源与顺序。
type fakeGateway struct {
	mu sync.Mutex

	structured map[string]func(req gateway.StructuredRequest) gateway.StructuredResult
	image      func(req gateway.ImageRequest) (*gateway.Image, error)
	video      func(req gateway.VideoRequest) (*gateway.Video, error)

	structuredCalls []gateway.StructuredRequest
	imageCalls      []gateway.ImageRequest
	videoCalls      []gateway.VideoRequest
}

func newFakeGateway() *fakeGateway {
	sameLocation := map[string]any{"groups": []int{0, 0, 0}}
	return &fakeGateway{structured: map[string]func(gateway.StructuredRequest) gateway.StructuredResult{
		"concept":         func(gateway.StructuredRequest) gateway.StructuredResult { return okJSON(frogConcept()) },
		"shot_plan":       func(gateway.StructuredRequest) gateway.StructuredResult { return okJSON(frogPlan(3)) },
		"location_groups": func(gateway.StructuredRequest) gateway.StructuredResult { return okJSON(sameLocation) },
		"continuity":      func(gateway.StructuredRequest) gateway.StructuredResult { return okJSON(scores(9, "")) },
	}}
}

func (f *fakeGateway) on(name string, fn func(req gateway.StructuredRequest) gateway.StructuredResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.structured[name] = fn
}

func (f *fakeGateway) CompleteStructured(_ context.Context, req gateway.StructuredRequest) gateway.StructuredResult {
	f.mu.Lock()
	f.structuredCalls = append(f.structuredCalls, req)
	fn := f.structured[req.Name]
	f.mu.Unlock()
	if fn == nil {
		return gateway.Failed(fmt.Errorf("no fake for %s", req.Name))
	}
	return fn(req)
}

func (f *fakeGateway) GenerateImage(_ context.Context, req gateway.ImageRequest) (*gateway.Image, error) {
	f.mu.Lock()
	f.imageCalls = append(f.imageCalls, req)
	fn := f.image
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return labelImage(req.Label), nil
}

func (f *fakeGateway) GenerateVideo(_ context.Context, req gateway.VideoRequest) (*gateway.Video, error) {
	f.mu.Lock()
	f.videoCalls = append(f.videoCalls, req)
	fn := f.video
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return &gateway.Video{MimeType: "video/mp4", Data: []byte("clip " + req.Label)}, nil
}

// imageCall returns the image request with the given label.
func (f *fakeGateway) imageCall(t *testing.T, label string) gateway.ImageRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.imageCalls {
		if c.Label == label {
			return c
		}
	}
	require.Failf(t, "image call not found", "label %q", label)
	return gateway.ImageRequest{}
}

func (f *fakeGateway) imageLabels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.imageCalls))
	for i, c := range f.imageCalls {
		out[i] = c.Label
	}
	return out
}

func (f *fakeGateway) structuredCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.structuredCalls {
		if c.Name == name {
			n++
		}
	}
	return n
}

func (f *fakeGateway) videoCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.videoCalls)
}

func labelImage(label string) *gateway.Image {
	return &gateway.Image{MimeType: "image/png", Data: []byte(label)}
}

// refLabels decodes the labels of the images attached to a request, in order.
func refLabels(imgs []gateway.Image) []string {
	out := make([]string, len(imgs))
	for i, img := range imgs {
		out[i] = string(img.Data)
	}
	return out
}

func okJSON(v any) gateway.StructuredResult {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return gateway.OK(b)
}

func scores(v int, feedback string) map[string]any {
	return map[string]any{
		"colorGrade": v, "lighting": v, "characterLikeness": v, "environmentMatch": v,
		"feedback": feedback,
	}
}

func frogConcept() models.Concept {
	return models.Concept{
		Title:             "Morning Ritual",
		Description:       "A frog runs a tiny café inside a lily pad greenhouse.",
		Style:             "soft watercolor, warm palette",
		Mood:              "cozy",
		KeyVisualElements: []string{"espresso machine", "lily pads"},
	}
}

func frogPlan(n int) map[string]any {
	shots := make([]map[string]any, n)
	for i := range shots {
		shots[i] = map[string]any{
			"prompt":     fmt.Sprintf("A green frog barista in a tiny apron, lily pad café, moment %d", i+1),
			"duration":   4,
			"dialogue":   []map[string]string{{"speaker": "Frog", "text": "Good morning"}},
			"characters": []string{"Frog"},
		}
	}
	return map[string]any{
		"shots":      shots,
		"characters": []map[string]string{{"name": "Frog", "description": "a small green frog in a striped apron"}},
	}
}

// dataURI is what InlineStore returns for an image whose bytes are label.
func dataURI(t *testing.T, label string) string {
	t.Helper()
	u, err := InlineStore{}.Put(context.Background(), "x.png", []byte(label), "image/png")
	require.NoError(t, err)
	return u
}

func newTestImager(gw gateway.Gateway) *imager {
	return &imager{
		gw:        gw,
		store:     InlineStore{},
		refs:      newRefCache(InlineStore{}),
		sessionID: "sess-1",
		aspect:    "16:9",
		logger:    zap.NewNop(),
	}
}

func eventsOf(evs []models.Event, typ models.EventType) []models.Event {
	var out []models.Event
	for _, e := range evs {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func hasLabelPrefix(labels []string, prefix string) bool {
	for _, l := range labels {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}
