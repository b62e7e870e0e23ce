package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/cuongbtq/news-clipping/internal/llm"
	"github.com/cuongbtq/news-clipping/internal/worker/domain"
)

// ChromeConfig tunes the LLM-driven browser agent
type ChromeConfig struct {
	AllowedDomains         []string
	MaxPageChars           int
	Temperature            float64
	MaxTokens              int
	ActionTimeout          time.Duration
	MaxConsecutiveFailures int
	Pricing                llm.Pricing
}

// ChromeEngine opens sessions on a remote Chrome over the DevTools protocol
// and drives them with a language model planner
type ChromeEngine struct {
	planner llm.Provider
	cfg     ChromeConfig
	logger  *slog.Logger
}

// NewChromeEngine creates a ChromeEngine
func NewChromeEngine(planner llm.Provider, cfg ChromeConfig, logger *slog.Logger) *ChromeEngine {
	if cfg.MaxPageChars <= 0 {
		cfg.MaxPageChars = 12000
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 30 * time.Second
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 5
	}
	return &ChromeEngine{planner: planner, cfg: cfg, logger: logger}
}

// Open attaches to the browser at endpoint and opens a fresh tab
func (e *ChromeEngine) Open(ctx context.Context, endpoint string) (Session, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, endpoint, chromedp.NoModifyURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// an empty Run performs the websocket handshake and creates the target
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, &ConnectionError{Op: "devtools handshake", Err: err}
	}

	return &chromeSession{
		engine:      e,
		ctx:         browserCtx,
		allocCancel: allocCancel,
		usage:       domain.Usage{Component: "browser_agent"},
	}, nil
}

type chromeSession struct {
	engine      *ChromeEngine
	ctx         context.Context
	allocCancel context.CancelFunc

	closed atomic.Bool
	mu     sync.Mutex
	usage  domain.Usage
}

func (s *chromeSession) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	defer s.allocCancel()

	// closes the tab; the remote browser itself belongs to the backend
	if err := chromedp.Cancel(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close browser tab: %w", err)
	}
	return nil
}

func (s *chromeSession) Usage() domain.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

func (s *chromeSession) addUsage(resp *llm.Response) {
	u := s.engine.cfg.Pricing.Usage("browser_agent", resp)
	s.mu.Lock()
	s.usage.Add(u)
	if u.Model != "" {
		s.usage.Model = u.Model
	}
	s.mu.Unlock()
}

// alive returns the reason the session can no longer make progress, if any
func (s *chromeSession) alive(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ctx.Err(); err != nil {
		return &ConnectionError{Op: "browser connection", Err: err}
	}
	return nil
}

func (s *chromeSession) Run(ctx context.Context, task string, maxSteps int, onStep func(Step)) (string, error) {
	cfg := s.engine.cfg
	var history []Step
	var notes []string
	failures := 0

	for n := 1; n <= maxSteps; n++ {
		if err := s.alive(ctx); err != nil {
			return "", err
		}

		page, err := s.observe()
		if err != nil {
			if aliveErr := s.alive(ctx); aliveErr != nil {
				return "", aliveErr
			}
			return "", &ConnectionError{Op: "observe page", Err: err}
		}

		resp, err := s.engine.planner.Complete(ctx, llm.Request{
			System:      plannerSystemPrompt,
			Prompt:      buildPlannerPrompt(task, page, history, notes),
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			JSON:        true,
		})
		if err != nil {
			if aliveErr := s.alive(ctx); aliveErr != nil {
				return "", aliveErr
			}
			return "", fmt.Errorf("planner: %w", err)
		}
		s.addUsage(resp)

		step := Step{Number: n, URL: page.URL, At: time.Now()}
		action, err := ParseAction(resp.Text)
		if err != nil {
			failures++
			step.Thinking = "unreadable plan"
			step.Action = "none"
			step.Result = err.Error()
		} else {
			step.Thinking = action.Thinking
			step.Action = action.Describe()

			if action.Type == ActionDone {
				step.Result = "done"
				onStep(step)
				return action.FinalPayload(), nil
			}

			result, err := s.execute(action, page, &notes)
			if err != nil {
				if aliveErr := s.alive(ctx); aliveErr != nil {
					return "", aliveErr
				}
				failures++
				step.Result = "error: " + err.Error()
			} else {
				failures = 0
				step.Result = result
			}
		}

		history = append(history, step)
		onStep(step)

		s.engine.logger.Debug("Browser step",
			slog.Int("step", n),
			slog.String("action", step.Action),
			slog.String("result", step.Result),
		)

		if failures >= cfg.MaxConsecutiveFailures {
			return "", fmt.Errorf("%d consecutive actions failed", failures)
		}
	}

	return "", ErrMaxSteps
}

func (s *chromeSession) observe() (*Page, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.engine.cfg.ActionTimeout)
	defer cancel()

	var location, title, html string
	if err := chromedp.Run(ctx,
		chromedp.Location(&location),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, err
	}
	return ParsePage(location, title, html, s.engine.cfg.MaxPageChars)
}

func (s *chromeSession) execute(a Action, page *Page, notes *[]string) (string, error) {
	cfg := s.engine.cfg
	ctx, cancel := context.WithTimeout(s.ctx, cfg.ActionTimeout)
	defer cancel()

	switch a.Type {
	case ActionNavigate:
		base, _ := url.Parse(page.URL)
		target := absoluteURL(base, a.URL)
		if target == "" {
			return "", fmt.Errorf("invalid url %q", a.URL)
		}
		u, _ := url.Parse(target)
		if !DomainAllowed(u.Hostname(), cfg.AllowedDomains) {
			return "", fmt.Errorf("domain %s is not allowed", u.Hostname())
		}
		if err := chromedp.Run(ctx, chromedp.Navigate(target)); err != nil {
			return "", err
		}
		return "navigated to " + target, nil

	case ActionClick:
		if err := chromedp.Run(ctx, chromedp.Click(a.Selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
			return "", err
		}
		var location string
		if err := chromedp.Run(ctx, chromedp.Location(&location)); err != nil {
			return "", err
		}
		if u, err := url.Parse(location); err == nil && u.Host != "" && !DomainAllowed(u.Hostname(), cfg.AllowedDomains) {
			if err := chromedp.Run(ctx, chromedp.NavigateBack()); err != nil {
				return "", err
			}
			return "", fmt.Errorf("click led to disallowed domain %s", u.Hostname())
		}
		return "clicked, now at " + location, nil

	case ActionType:
		if err := chromedp.Run(ctx, chromedp.SendKeys(a.Selector, a.Text, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
			return "", err
		}
		return "typed into " + a.Selector, nil

	case ActionScroll:
		var ok bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(`window.scrollBy(0, window.innerHeight); true`, &ok)); err != nil {
			return "", err
		}
		return "scrolled one viewport", nil

	case ActionExtract:
		note := fmt.Sprintf("%s (%s)\n%s", page.Title, page.URL, truncateRunes(page.Markdown, noteChars))
		*notes = append(*notes, note)
		return fmt.Sprintf("extracted %s", page.URL), nil
	}

	return "", fmt.Errorf("unsupported action %q", a.Type)
}
