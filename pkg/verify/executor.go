package verify

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/rod/lib/utils"

	"dev/bravebird/frontend-verify/pkg/models"
)

// FindTextJS descends from <body> to the innermost element whose rendered text contains
// the needle, compared case-insensitively with collapsed whitespace. It returns null until
// the text exists so rod keeps polling.
const FindTextJS = `(text) => {
	const norm = (s) => (s || '').replace(/\s+/g, ' ').toLowerCase();
	const needle = norm(text).trim();
	const contains = (el) => norm(el.innerText !== undefined ? el.innerText : el.textContent).includes(needle);
	let el = document.body;
	if (!el || !contains(el)) return null;
	for (;;) {
		const child = Array.from(el.children).find(contains);
		if (!child) return el;
		el = child;
	}
}`

// ExecuteStep runs one step against the page. Locators are resolved fresh on every call.
func ExecuteStep(ctx context.Context, page *rod.Page, plan models.Plan, step models.Step) error {
	timeout := plan.TimeoutFor(step)
	return classify(step, timeout, executeStep(ctx, page, step, timeout))
}

func executeStep(ctx context.Context, page *rod.Page, step models.Step, timeout time.Duration) error {
	switch step.Type {
	case models.StepNavigate:
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		p := page.Context(waitCtx)
		if err := p.Navigate(step.URL); err != nil {
			return err
		}
		return p.WaitLoad()

	case models.StepExpectVisible:
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		el, err := locate(page.Context(waitCtx), step.Target)
		if err != nil {
			return err
		}
		return el.WaitVisible()

	case models.StepExpectText:
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		el, err := page.Context(waitCtx).ElementByJS(rod.Eval(FindTextJS, step.Target.Text))
		if err != nil {
			return err
		}
		return el.WaitVisible()

	case models.StepClick:
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		el, err := locate(page.Context(waitCtx), step.Target)
		if err != nil {
			return err
		}
		return el.Click(proto.InputMouseButtonLeft, 1)

	case models.StepScreenshot:
		data, err := page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
			Format: proto.PageCaptureScreenshotFormatPng,
		})
		if err != nil {
			return fmt.Errorf("failed to take screenshot: %w", err)
		}
		if err := utils.OutputFile(step.Path, data); err != nil {
			return fmt.Errorf("failed to save screenshot: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unsupported step type: %s", step.Type)
	}
}

// locate resolves a locator, waiting for it to exist under the page's context
func locate(page *rod.Page, target models.Locator) (*rod.Element, error) {
	if target.Text == "" {
		return page.Element(target.Selector)
	}
	// Case-insensitive substring match on the element text
	return page.ElementR(target.Selector, "/"+regexp.QuoteMeta(target.Text)+"/i")
}
