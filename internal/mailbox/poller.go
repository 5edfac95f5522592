// Package mailbox harvests article links from an IMAP mailbox and sends record
// summaries by SMTP.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"tracklight/internal/config"
	"tracklight/internal/logger"
)

// Mailbox errors.
var (
	ErrNotConfigured = errors.New("mail credentials not configured")
	ErrMailbox       = errors.New("mailbox scan failed")
)

// Result is the outcome of one scan.
type Result struct {
	Links    []string
	Scanned  int
	Unseen   bool
	Mailbox  string
	Duration time.Duration
}

// Poller scans a mailbox for article links.
type Poller struct {
	cfg  config.MailConfig
	dial func(addr string) (*client.Client, error)
	now  func() time.Time
	log  *logger.Logger

	mu       sync.Mutex
	lastPoll time.Time
}

// NewPoller creates a Poller connecting over implicit TLS.
func NewPoller(cfg config.MailConfig, log *logger.Logger) *Poller {
	if log == nil {
		log = logger.Nop()
	}

	return &Poller{
		cfg: cfg,
		dial: func(addr string) (*client.Client, error) {
			return client.DialTLS(addr, nil)
		},
		now: time.Now,
		log: log.With("component", "mailbox"),
	}
}

// ShouldPoll reports whether the poll interval has elapsed since the last scan.
func (p *Poller) ShouldPoll() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastPoll.IsZero() {
		return true
	}

	return p.now().Sub(p.lastPoll) >= p.cfg.PollInterval()
}

// LastPoll returns the time of the last scan, zero when none ran.
func (p *Poller) LastPoll() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.lastPoll
}

// Poll logs in, reads unseen messages (or the most recent ones when none are unseen)
// and returns the article links found in their text parts. Fetched messages are
// marked seen by the server.
func (p *Poller) Poll(ctx context.Context, extractor *LinkExtractor) (*Result, error) {
	if p.cfg.Username == "" || p.cfg.Password == "" {
		return nil, ErrNotConfigured
	}

	if extractor == nil {
		extractor = NewLinkExtractor(nil)
	}

	start := p.now()

	p.mu.Lock()
	p.lastPoll = start
	p.mu.Unlock()

	c, err := p.dial(p.cfg.IMAPAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %w", ErrMailbox, p.cfg.IMAPAddr, err)
	}

	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
	defer stop()

	defer func() { _ = c.Logout() }()

	if err := c.Login(p.cfg.Username, p.cfg.Password); err != nil {
		return nil, fmt.Errorf("%w: login: %w", ErrMailbox, err)
	}

	name := p.cfg.Mailbox
	if name == "" {
		name = "INBOX"
	}

	status, err := selectMailbox(c, name)
	if err != nil {
		return nil, fmt.Errorf("%w: select %s: %w", ErrMailbox, name, err)
	}

	seqs, unseen, err := p.pickMessages(c, status)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", ErrMailbox, err)
	}

	res := &Result{Mailbox: name, Unseen: unseen}

	if len(seqs) == 0 {
		res.Duration = p.now().Sub(start)

		return res, nil
	}

	bodies, err := fetchBodies(c, seqs)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("%w: fetch: %w", ErrMailbox, err)
	}

	found := make(map[string]bool)

	for _, body := range bodies {
		for _, link := range extractor.Extract(body) {
			found[link] = true
		}
	}

	for link := range found {
		res.Links = append(res.Links, link)
	}

	sort.Strings(res.Links)

	res.Scanned = len(bodies)
	res.Duration = p.now().Sub(start)

	p.log.Info("mailbox scanned", "mailbox", name, "messages", res.Scanned, "links", len(res.Links), "unseen", unseen)

	return res, nil
}

// selectMailbox selects name read-write, retrying with the name quoted for servers
// that reject folder names containing spaces.
func selectMailbox(c *client.Client, name string) (*imap.MailboxStatus, error) {
	status, err := c.Select(name, false)
	if err == nil {
		return status, nil
	}

	if strings.HasPrefix(name, `"`) {
		return nil, err
	}

	quoted, qerr := c.Select(`"`+name+`"`, false)
	if qerr != nil {
		return nil, err
	}

	return quoted, nil
}

// pickMessages returns the unseen messages, or the last FallbackScan messages when
// nothing is unseen.
func (p *Poller) pickMessages(c *client.Client, status *imap.MailboxStatus) ([]uint32, bool, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	ids, err := c.Search(criteria)
	if err != nil {
		return nil, false, err
	}

	if len(ids) > 0 {
		return ids, true, nil
	}

	total := status.Messages
	if total == 0 || p.cfg.FallbackScan == 0 {
		return nil, false, nil
	}

	from := uint32(1)
	if n := uint32(p.cfg.FallbackScan); total > n {
		from = total - n + 1
	}

	seqs := make([]uint32, 0, total-from+1)
	for i := from; i <= total; i++ {
		seqs = append(seqs, i)
	}

	return seqs, false, nil
}

// fetchBodies downloads the given messages and returns the decoded text of each.
func fetchBodies(c *client.Client, seqs []uint32) ([]string, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(seqs...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)

	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	var bodies []string

	for msg := range messages {
		r := msg.GetBody(section)
		if r == nil {
			continue
		}

		text, err := messageText(r)
		if err != nil {
			continue
		}

		bodies = append(bodies, text)
	}

	if err := <-done; err != nil {
		return bodies, err
	}

	return bodies, nil
}

// messageText concatenates the text/plain and text/html parts of a message that are
// not attachments.
func messageText(r io.Reader) (string, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", err
	}

	var sb strings.Builder

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return sb.String(), err
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		if disp, _, _ := mime.ParseMediaType(h.Get("Content-Disposition")); disp == "attachment" {
			continue
		}

		ct, _, err := h.ContentType()
		if err != nil || (ct != "text/plain" && ct != "text/html") {
			continue
		}

		b, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		sb.Write(b)
		sb.WriteString("\n")
	}

	return sb.String(), nil
}
