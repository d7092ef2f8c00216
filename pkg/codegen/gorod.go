// Package codegen renders verification plans as standalone Go Rod programs.
package codegen

import (
	"fmt"
	"go/format"
	"regexp"
	"strings"
	"time"

	"dev/bravebird/frontend-verify/pkg/models"
	"dev/bravebird/frontend-verify/pkg/verify"
)

// GenerateGoRodScript generates a self-contained Go Rod program that performs the plan.
// The program exits through a panic on the first failing step, the way Must* calls do.
func GenerateGoRodScript(plan models.Plan) (string, error) {
	if err := plan.Validate(); err != nil {
		return "", err
	}

	var body strings.Builder
	usesTime := false
	usesTextJS := false

	for i, step := range plan.Steps {
		timeout := plan.TimeoutFor(step)
		label := string(step.Type)
		if step.Description != "" {
			label = escapeComment(step.Description)
		}
		body.WriteString(fmt.Sprintf("\t// Step %d: %s\n", i+1, label))

		switch step.Type {
		case models.StepNavigate:
			usesTime = true
			body.WriteString(fmt.Sprintf("\tpage.Timeout(%s).MustNavigate(%q).MustWaitLoad().CancelTimeout()\n",
				durationLiteral(timeout), step.URL))

		case models.StepExpectVisible:
			usesTime = true
			body.WriteString(fmt.Sprintf("\t%s.MustWaitVisible()\n", elementExpr(step.Target, timeout)))

		case models.StepClick:
			usesTime = true
			body.WriteString(fmt.Sprintf("\t%s.MustClick()\n", elementExpr(step.Target, timeout)))

		case models.StepExpectText:
			usesTime = true
			usesTextJS = true
			body.WriteString(fmt.Sprintf("\tpage.Timeout(%s).MustElementByJS(findTextJS, %q).MustWaitVisible()\n",
				durationLiteral(timeout), step.Target.Text))

		case models.StepScreenshot:
			body.WriteString(fmt.Sprintf("\tpage.MustScreenshotFullPage(%q)\n", step.Path))
		}

		body.WriteString("\n")
	}

	var sb strings.Builder
	sb.WriteString("package main\n\nimport (\n\t\"fmt\"\n")
	if usesTime {
		sb.WriteString("\t\"time\"\n")
	}
	sb.WriteString("\n\t\"github.com/go-rod/rod\"\n\t\"github.com/go-rod/rod/lib/launcher\"\n)\n\n")
	if usesTextJS {
		sb.WriteString("const findTextJS = `" + verify.FindTextJS + "`\n\n")
	}
	sb.WriteString(`func main() {
	// Launch browser
	u := launcher.New().Headless(true).MustLaunch()
	browser := rod.New().ControlURL(u).MustConnect()
	defer browser.MustClose()

	page := browser.MustPage()

`)
	sb.WriteString(body.String())
	sb.WriteString(fmt.Sprintf("\tfmt.Println(%q)\n}\n", plan.SuccessMessage))

	src, err := format.Source([]byte(sb.String()))
	if err != nil {
		return "", fmt.Errorf("failed to format generated script: %w", err)
	}
	return string(src), nil
}

func elementExpr(target models.Locator, timeout time.Duration) string {
	if target.Text == "" {
		return fmt.Sprintf("page.Timeout(%s).MustElement(%q)", durationLiteral(timeout), target.Selector)
	}
	return fmt.Sprintf("page.Timeout(%s).MustElementR(%q, %q)",
		durationLiteral(timeout), target.Selector, "/"+regexp.QuoteMeta(target.Text)+"/i")
}

// durationLiteral renders d as Go source, e.g. 10 * time.Second
func durationLiteral(d time.Duration) string {
	switch {
	case d%time.Second == 0:
		return fmt.Sprintf("%d * time.Second", d/time.Second)
	case d%time.Millisecond == 0:
		return fmt.Sprintf("%d * time.Millisecond", d/time.Millisecond)
	default:
		return fmt.Sprintf("time.Duration(%d)", int64(d))
	}
}

func escapeComment(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}
