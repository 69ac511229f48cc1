package app

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"exammate/pkg/domain"
)

// extractPDFPages returns the plain text of each PDF page. Pages that fail
// to decode are skipped rather than failing the whole paper.
func extractPDFPages(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	totalPages := reader.NumPage()
	var pages []string
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = normalizeText(text)
		if text != "" {
			pages = append(pages, text)
		}
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no text extracted from PDF")
	}
	return pages, nil
}

// extractHTMLPages treats an HTML paper export as a single page of text.
func extractHTMLPages(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	text := normalizeText(extractText(doc))
	if text == "" {
		return nil, fmt.Errorf("no text extracted from HTML")
	}
	return []string{text}, nil
}

// buildDraftUnits converts extracted page texts into a draft content tree:
// one unit per page, with the questions split out. The draft is meant to be
// corrected by an editor, not served raw.
func buildDraftUnits(pages []string) []domain.ContentUnit {
	units := make([]domain.ContentUnit, 0, len(pages))
	for i, page := range pages {
		questions := splitQuestions(page)
		if len(questions) == 0 {
			continue
		}
		units = append(units, domain.ContentUnit{
			Title: fmt.Sprintf("Unit %d (draft)", i+1),
			Options: []domain.ContentOption{{
				Label:     "A",
				Questions: questions,
			}},
		})
	}
	return units
}

// questionStart matches the usual exam numbering styles at a question
// boundary: "1.", "1)", "Q1.", "Q.1".
var questionStart = regexp.MustCompile(`(?:^|\s)(?:Q\.?\s?)?(\d{1,2})[.)]\s+`)

// marksTag matches trailing mark annotations like "[5M]", "(10 Marks)".
var marksTag = regexp.MustCompile(`[\[(](\d{1,2})\s*(?:M|marks?)[\])]\s*$`)

// splitQuestions carves one page of text into numbered questions. Text
// before the first number is dropped; it is almost always the paper header.
func splitQuestions(text string) []domain.Question {
	matches := questionStart.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}
	var questions []domain.Question
	for i, match := range matches {
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		number := text[match[2]:match[3]]
		body := strings.TrimSpace(text[match[1]:end])
		if body == "" {
			continue
		}
		question := domain.Question{Number: number, Text: body}
		if tag := marksTag.FindStringSubmatch(body); tag != nil {
			if marks, err := strconv.Atoi(tag[1]); err == nil {
				question.Marks = marks
				question.Text = strings.TrimSpace(marksTag.ReplaceAllString(body, ""))
			}
		}
		questions = append(questions, question)
	}
	return questions
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

func extractText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && (node.Data == "p" || node.Data == "br" || node.Data == "div" || node.Data == "li") {
			buf.WriteString(" ")
		}
	}
	walk(n)
	return buf.String()
}
