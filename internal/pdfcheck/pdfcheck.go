// Package pdfcheck validates finished PDFs.
//
// JHOVE's PDF-hul module is the reference validator; a document passes only
// when its reported status reads "well-formed and valid". When JHOVE is not
// installed the in-process pdfcpu validator stands in.
package pdfcheck

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"pagebind/internal/deps"
	"pagebind/internal/logging"
	"pagebind/internal/runner"
	"pagebind/internal/services"
)

// Validator names accepted by config.
const (
	ValidatorAuto   = "auto"
	ValidatorJHOVE  = "jhove"
	ValidatorPDFCPU = "pdfcpu"
	ValidatorNone   = "none"
)

// Report is the outcome of one validation.
type Report struct {
	Validator string
	Status    string
	Messages  []string
	Valid     bool
	Skipped   bool
}

// Validator checks a single PDF. A document that fails validation yields a
// Report with Valid unset and an error marked services.ErrValidation.
type Validator interface {
	Validate(ctx context.Context, pdf string) (Report, error)
}

// New selects a validator by name. "auto" resolves JHOVE when it is on PATH
// and pdfcpu otherwise, at validation time.
func New(name string, exec runner.Executor, logger *slog.Logger) (Validator, error) {
	logger = logging.NewComponentLogger(logger, "pdfcheck")
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ValidatorAuto, "":
		return &chainValidator{
			chain: deps.Chain{
				Function: "PDF validation",
				Candidates: []deps.Candidate{
					deps.Binary(ValidatorJHOVE, "jhove"),
					deps.InProcess(ValidatorPDFCPU, true),
				},
			},
			jhove:  func(command string) Validator { return &JHOVE{exec: exec, command: command, logger: logger} },
			pdfcpu: PDFCPU{},
		}, nil
	case ValidatorJHOVE:
		return &JHOVE{exec: exec, command: "jhove", logger: logger}, nil
	case ValidatorPDFCPU:
		return PDFCPU{}, nil
	case ValidatorNone:
		return noop{}, nil
	}
	return nil, services.Wrap(services.ErrConfiguration, "pdfcheck", "select validator", fmt.Sprintf("unknown validator %q", name), nil)
}

type chainValidator struct {
	chain  deps.Chain
	jhove  func(command string) Validator
	pdfcpu Validator
}

func (c *chainValidator) Validate(ctx context.Context, pdf string) (Report, error) {
	resolved, err := c.chain.Resolve()
	if err != nil {
		return Report{}, services.Wrap(services.ErrExternalTool, "pdfcheck", "resolve validator", "", err)
	}
	if resolved.Name == ValidatorJHOVE {
		return c.jhove(resolved.Command).Validate(ctx, pdf)
	}
	return c.pdfcpu.Validate(ctx, pdf)
}

// JHOVE runs `jhove -m PDF-hul -h XML <pdf>` and inspects repInfo/status.
type JHOVE struct {
	exec    runner.Executor
	command string
	logger  *slog.Logger
}

type jhoveOutput struct {
	XMLName xml.Name    `xml:"jhove"`
	RepInfo []jhoveInfo `xml:"repInfo"`
}

type jhoveInfo struct {
	URI      string         `xml:"uri,attr"`
	Status   string         `xml:"status"`
	Messages []jhoveMessage `xml:"messages>message"`
}

type jhoveMessage struct {
	Severity string `xml:"severity,attr"`
	Text     string `xml:",chardata"`
}

func (j *JHOVE) Validate(ctx context.Context, pdf string) (Report, error) {
	report := Report{Validator: ValidatorJHOVE}
	result, err := j.exec.Run(ctx, j.command, "-m", "PDF-hul", "-h", "XML", pdf)
	if err != nil {
		return report, services.Wrap(services.ErrExternalTool, "pdfcheck", "run jhove", pdf, err)
	}
	logging.WithContext(ctx, j.logger).Debug("jhove output", logging.String("pdf", pdf), logging.String("xml", result.Stdout))

	status, messages, err := ParseJHOVE([]byte(result.Stdout))
	if err != nil {
		return report, services.Wrap(services.ErrExternalTool, "pdfcheck", "parse jhove output", pdf, err)
	}
	report.Status = status
	report.Messages = messages
	report.Valid = StatusValid(status)
	if !report.Valid {
		return report, services.Wrap(services.ErrValidation, "pdfcheck", "validate",
			fmt.Sprintf("%s fails JHOVE validation: %s", pdf, status), nil)
	}
	return report, nil
}

// ParseJHOVE extracts the status and messages of the first repInfo element.
func ParseJHOVE(data []byte) (string, []string, error) {
	var out jhoveOutput
	if err := xml.Unmarshal(data, &out); err != nil {
		return "", nil, err
	}
	if len(out.RepInfo) == 0 {
		return "", nil, fmt.Errorf("no repInfo element in jhove output")
	}
	info := out.RepInfo[0]
	messages := make([]string, 0, len(info.Messages))
	for _, msg := range info.Messages {
		text := strings.TrimSpace(msg.Text)
		if msg.Severity != "" {
			text = msg.Severity + ": " + text
		}
		messages = append(messages, text)
	}
	return strings.TrimSpace(info.Status), messages, nil
}

// StatusValid reports whether a JHOVE status accepts the document.
func StatusValid(status string) bool {
	return strings.Contains(strings.ToLower(status), "well-formed and valid")
}

// PDFCPU validates with pdfcpu's relaxed structural checks.
type PDFCPU struct{}

func (PDFCPU) Validate(_ context.Context, pdf string) (Report, error) {
	report := Report{Validator: ValidatorPDFCPU}
	if err := api.ValidateFile(pdf, nil); err != nil {
		report.Status = "invalid"
		report.Messages = []string{err.Error()}
		return report, services.Wrap(services.ErrValidation, "pdfcheck", "validate", pdf+" fails pdfcpu validation", err)
	}
	report.Status = "valid"
	report.Valid = true
	return report, nil
}

type noop struct{}

func (noop) Validate(context.Context, string) (Report, error) {
	return Report{Validator: ValidatorNone, Status: "skipped", Valid: true, Skipped: true}, nil
}
