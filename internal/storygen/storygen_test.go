package storygen_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/skystories/internal/character"
	"github.com/MrWong99/skystories/internal/resilience"
	"github.com/MrWong99/skystories/internal/storygen"
	imagemock "github.com/MrWong99/skystories/pkg/provider/image/mock"
	"github.com/MrWong99/skystories/pkg/provider/llm"
	llmmock "github.com/MrWong99/skystories/pkg/provider/llm/mock"
)

var errBackend = errors.New("backend down")

func echoLLM() *llmmock.Provider {
	return &llmmock.Provider{Respond: func(req llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: "AI: " + req.Messages[0].Content}, nil
	}}
}

func TestParts_StaticWithoutBackends(t *testing.T) {
	t.Parallel()

	cat := character.Default()
	g := storygen.New(cat)
	res, err := g.Parts(t.Context(), "farmer")
	if err != nil {
		t.Fatalf("Parts: %v", err)
	}
	ch, _ := cat.Get("farmer")
	if res.Parts != ch.StaticParts() {
		t.Errorf("Parts = %+v; want static parts", res.Parts)
	}
	for part, src := range res.Sources {
		if src != storygen.SourceStatic {
			t.Errorf("Sources[%s] = %q; want static", part, src)
		}
	}
}

func TestParts_AllGenerated(t *testing.T) {
	t.Parallel()

	p := echoLLM()
	img := &imagemock.Generator{URL: "https://img.example/farmer.png"}
	g := storygen.New(character.Default(), storygen.WithLLM(p), storygen.WithImages(img))

	script, res, err := g.Script(t.Context(), "farmer")
	if err != nil {
		t.Fatalf("Script: %v", err)
	}
	if p.Calls() != 4 {
		t.Errorf("llm calls = %d; want 4", p.Calls())
	}
	if img.Calls() != 1 {
		t.Errorf("image calls = %d; want 1", img.Calls())
	}
	for part, src := range res.Sources {
		if src != storygen.SourceAI {
			t.Errorf("Sources[%s] = %q; want ai", part, src)
		}
	}
	if script.Len() != 5 {
		t.Fatalf("script length = %d; want 5", script.Len())
	}
	if got := script.Beat(0).Content; !strings.Contains(got, "Introduce yourself") || !strings.Contains(got, "Farmer Sarah") {
		t.Errorf("intro = %q; want generated intro", got)
	}
	if got := script.Beat(2).MediaRef; got != "https://img.example/farmer.png" {
		t.Errorf("image = %q; want generated image", got)
	}

	req := p.Requests[0]
	if req.MaxTokens != storygen.MaxTokens || req.Temperature != storygen.Temperature {
		t.Errorf("request settings = %d/%g; want %d/%g", req.MaxTokens, req.Temperature, storygen.MaxTokens, storygen.Temperature)
	}
	if !strings.HasPrefix(req.SystemPrompt, "You are Farmer Sarah, a space weather expert.") {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if !strings.Contains(img.Requests[0].Prompt, "kid-friendly illustration showing Farmer Sarah") {
		t.Errorf("image prompt = %q", img.Requests[0].Prompt)
	}
}

func TestParts_FailuresDegradeToStatic(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var fellBack []string
	g := storygen.New(character.Default(),
		storygen.WithLLM(&llmmock.Provider{Err: errBackend}),
		storygen.WithImages(&imagemock.Generator{Err: errBackend}),
		storygen.WithBreaker(resilience.CircuitBreakerConfig{MaxFailures: 100}),
		storygen.WithFallbackHook(func(part string, err error) {
			mu.Lock()
			defer mu.Unlock()
			fellBack = append(fellBack, part)
		}),
	)
	res, err := g.Parts(t.Context(), "pilot")
	if err != nil {
		t.Fatalf("Parts: %v", err)
	}
	ch, _ := character.Default().Get("pilot")
	if res.Parts != ch.StaticParts() {
		t.Errorf("Parts = %+v; want static", res.Parts)
	}
	if len(fellBack) != 5 {
		t.Errorf("fallbacks = %v; want 5 parts", fellBack)
	}
}

func TestParts_BreakerStopsCalls(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{Err: errBackend}
	g := storygen.New(character.Default(),
		storygen.WithLLM(p),
		storygen.WithBreaker(resilience.CircuitBreakerConfig{MaxFailures: 4, ResetTimeout: time.Hour}),
	)
	for range 3 {
		if _, err := g.Parts(t.Context(), "astronaut"); err != nil {
			t.Fatalf("Parts: %v", err)
		}
	}
	if p.Calls() != 4 {
		t.Errorf("llm calls = %d; want 4 (breaker open after first script)", p.Calls())
	}
	if st := g.TextBreaker().State(); st != resilience.StateOpen {
		t.Errorf("text breaker = %s; want open", st)
	}
	if st := g.ImageBreaker().State(); st != resilience.StateClosed {
		t.Errorf("image breaker = %s; want closed", st)
	}
}

func TestParts_FallbackOnly(t *testing.T) {
	t.Parallel()

	p := echoLLM()
	g := storygen.New(character.Default(), storygen.WithLLM(p), storygen.WithFallbackOnly(true))
	if g.TextEnabled() {
		t.Error("TextEnabled() = true; want false")
	}
	if _, err := g.Parts(t.Context(), "public"); err != nil {
		t.Fatalf("Parts: %v", err)
	}
	if p.Calls() != 0 {
		t.Errorf("llm calls = %d; want 0", p.Calls())
	}

	g.SetFallbackOnly(false)
	if !g.TextEnabled() {
		t.Fatal("TextEnabled() = false after SetFallbackOnly(false)")
	}
	if _, err := g.Parts(t.Context(), "public"); err != nil {
		t.Fatalf("Parts: %v", err)
	}
	if p.Calls() != 4 {
		t.Errorf("llm calls = %d; want 4", p.Calls())
	}
}

func TestParts_Errors(t *testing.T) {
	t.Parallel()

	g := storygen.New(character.Default(), storygen.WithLLM(&llmmock.Provider{Block: true}))
	if _, err := g.Parts(t.Context(), "wizard"); !errors.Is(err, character.ErrUnknownCharacter) {
		t.Errorf("unknown id err = %v; want ErrUnknownCharacter", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := g.Parts(ctx, "farmer"); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled err = %v; want context.Canceled", err)
	}
}

func TestAsk(t *testing.T) {
	t.Parallel()

	t.Run("ai answer", func(t *testing.T) {
		t.Parallel()
		p := echoLLM()
		g := storygen.New(character.Default(), storygen.WithLLM(p))
		ans, err := g.Ask(t.Context(), "operator", "  What is a CME?  ")
		if err != nil {
			t.Fatalf("Ask: %v", err)
		}
		if ans.Source != storygen.SourceAI {
			t.Errorf("Source = %q; want ai", ans.Source)
		}
		want := `The user just said: "What is a CME?". Respond as Grid Operator Lisa`
		if !strings.Contains(ans.Text, want) {
			t.Errorf("Text = %q; want it to contain %q", ans.Text, want)
		}
	})

	t.Run("canned rotation", func(t *testing.T) {
		t.Parallel()
		g := storygen.New(character.Default(), storygen.WithLLM(&llmmock.Provider{Err: errBackend}))
		ch, _ := character.Default().Get("farmer")
		for i := range 4 {
			ans, err := g.Ask(t.Context(), "farmer", "hello")
			if err != nil {
				t.Fatalf("Ask: %v", err)
			}
			if ans.Source != storygen.SourceCanned {
				t.Errorf("Source = %q; want canned", ans.Source)
			}
			if want := ch.FollowUps[i%len(ch.FollowUps)]; ans.Text != want {
				t.Errorf("answer %d = %q; want %q", i, ans.Text, want)
			}
		}
	})

	t.Run("fallback line", func(t *testing.T) {
		t.Parallel()
		cat, err := character.NewCatalog([]character.Character{
			{ID: "x", Name: "X", Story: "s", Impact: "i", Fallback: "Space is big."},
		})
		if err != nil {
			t.Fatalf("NewCatalog: %v", err)
		}
		ans, err := storygen.New(cat).Ask(t.Context(), "x", "why?")
		if err != nil {
			t.Fatalf("Ask: %v", err)
		}
		if ans.Text != "Space is big." || ans.Source != storygen.SourceFallback {
			t.Errorf("Ask = %+v; want fallback line", ans)
		}
	})

	t.Run("empty question", func(t *testing.T) {
		t.Parallel()
		g := storygen.New(character.Default())
		if _, err := g.Ask(t.Context(), "farmer", "   "); !errors.Is(err, storygen.ErrEmptyQuestion) {
			t.Errorf("err = %v; want ErrEmptyQuestion", err)
		}
	})
}
