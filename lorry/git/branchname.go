package git

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/valyala/fasttemplate"
)

// Branch template tags.
const (
	TagBase      = "base"
	TagTimestamp = "timestamp"
)

// DefaultBranchTemplate names update branches after
// the base branch and the UTC run time.
const DefaultBranchTemplate = "update-mirrors/{base}/{timestamp}"

// TimestampLayout formats the {timestamp} tag.
const TimestampLayout = "20060102150405"

var (
	errTemplateTags = errors.New(
		"branch template needs {timestamp} once and {base} at most once",
	)
	errUnknownTag = errors.New("unknown branch template tag")
)

// BranchNamer builds update branch names from a
// template and recognises names built by earlier runs.
type BranchNamer struct {
	tpl    string
	prefix string
	re     *regexp.Regexp
}

// NewBranchNamer compiles tpl. Tags are {base} and
// {timestamp}; {timestamp} is required so that names
// are unique per run and ordered in time.
func NewBranchNamer(tpl string) (*BranchNamer, error) {
	const errCtx = "compiling branch template"

	tags := make(map[string]int)

	// Tags are replaced by NUL-delimited markers so the
	// literal text can be quoted separately.
	marked, err := fasttemplate.ExecuteFuncStringWithErr(
		tpl, "{", "}",
		func(w io.Writer, tag string) (int, error) {
			switch tag {
			case TagBase, TagTimestamp:
				tags[tag]++

				return w.Write([]byte("\x00" + tag + "\x00"))
			default:
				return 0, fmt.Errorf("%w %q", errUnknownTag, tag)
			}
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if tags[TagTimestamp] != 1 || tags[TagBase] > 1 {
		return nil, fmt.Errorf("%s: %q: %w", errCtx, tpl, errTemplateTags)
	}

	prefix, _, _ := strings.Cut(marked, "\x00")

	expr := regexp.QuoteMeta(marked)
	expr = strings.Replace(
		expr, "\x00"+TagBase+"\x00", `(?P<base>.+)`, 1,
	)
	expr = strings.Replace(
		expr, "\x00"+TagTimestamp+"\x00", `(?P<timestamp>\d{14})`, 1,
	)

	re, err := regexp.Compile("^" + expr + "$")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return &BranchNamer{
		tpl:    tpl,
		prefix: prefix,
		re:     re,
	}, nil
}

// Name returns the branch name for base at time t.
func (n *BranchNamer) Name(base string, t time.Time) string {
	return fasttemplate.ExecuteString(
		n.tpl, "{", "}",
		map[string]any{
			TagBase:      base,
			TagTimestamp: t.UTC().Format(TimestampLayout),
		},
	)
}

// Prefix returns the literal text before the first
// tag; forges use it to narrow branch listings.
func (n *BranchNamer) Prefix() string {
	return n.prefix
}

// Parse reports whether name was produced by the
// template and returns its base branch and timestamp.
// base is empty when the template has no {base} tag.
func (n *BranchNamer) Parse(
	name string,
) (base string, at time.Time, ok bool) {
	m := n.re.FindStringSubmatch(name)
	if m == nil {
		return "", time.Time{}, false
	}

	var ts string

	for i, group := range n.re.SubexpNames() {
		switch group {
		case TagBase:
			base = m[i]
		case TagTimestamp:
			ts = m[i]
		}
	}

	at, err := time.Parse(TimestampLayout, ts)
	if err != nil {
		return "", time.Time{}, false
	}

	return base, at, true
}
