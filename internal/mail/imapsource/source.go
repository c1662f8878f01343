// Package imapsource is the second scan engine: a mail.Source over IMAP
// for mailboxes without the HTTP API. It reports progress through the
// same page/cursor contract, so the scan processor does not know which
// transport it is driving. Rule queries are not supported here — label
// jobs always run against the HTTP source.
package imapsource

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/szabogaliakos/email-insights-sub001/internal/mail"
)

// Config locates the IMAP server shared by all owners; per-owner
// credentials arrive with each request as "username:password".
type Config struct {
	Host string
	Port int
	TLS  bool
}

// Source lists INBOX messages newest-first over IMAP. The cursor is the
// lowest UID of the previous page; the next page contains strictly lower
// UIDs, so a resumed scan never re-reads a committed page even when new
// mail arrives mid-job.
type Source struct {
	cfg Config
}

// New creates a new IMAP source.
func New(cfg Config) *Source {
	return &Source{cfg: cfg}
}

func (s *Source) ListMessages(ctx context.Context, req mail.ListRequest) (*mail.Page, error) {
	username, password, ok := strings.Cut(req.Credential, ":")
	if !ok || username == "" {
		return nil, fmt.Errorf("%w: imap credential must be username:password", mail.ErrPermanent)
	}

	client, err := s.connect(username, password)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return nil, fmt.Errorf("%w: selecting INBOX: %v", mail.ErrTransient, err)
	}

	criteria := &imap.SearchCriteria{}
	if req.Cursor != "" {
		before, err := strconv.ParseUint(req.Cursor, 10, 32)
		if err != nil || before <= 1 {
			return nil, fmt.Errorf("%w: bad imap cursor %q", mail.ErrPermanent, req.Cursor)
		}
		var set imap.UIDSet
		set.AddRange(1, imap.UID(before-1))
		criteria.UID = []imap.UIDSet{set}
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("%w: searching messages: %v", mail.ErrTransient, err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return &mail.Page{}, nil
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })

	max := req.MaxResults
	if max <= 0 || max > len(uids) {
		max = len(uids)
	}
	window := uids[:max]
	hasMore := len(uids) > max

	messages, err := s.fetchEnvelopes(client, window)
	if err != nil {
		return nil, err
	}

	page := &mail.Page{
		Messages:           messages,
		ResultSizeEstimate: len(uids),
	}
	if hasMore {
		page.NextCursor = strconv.FormatUint(uint64(window[len(window)-1]), 10)
	}
	return page, nil
}

func (s *Source) connect(username, password string) (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var client *imapclient.Client
	var err error
	if s.cfg.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to imap %s: %v", mail.ErrTransient, addr, err)
	}

	if err := client.Login(username, password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("%w: imap login for %s: %v", mail.ErrPermanent, username, err)
	}
	return client, nil
}

func (s *Source) fetchEnvelopes(client *imapclient.Client, uids []imap.UID) ([]mail.Message, error) {
	uidSet := imap.UIDSetNum(uids...)
	fetchOpts := &imap.FetchOptions{
		Envelope: true,
		UID:      true,
	}

	fetchCmd := client.Fetch(uidSet, fetchOpts)

	var messages []mail.Message
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			// One unreadable message never fails the page.
			continue
		}
		messages = append(messages, messageFromBuffer(buf))
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("%w: fetching envelopes: %v", mail.ErrTransient, err)
	}
	return messages, nil
}

// messageFromBuffer maps a fetched envelope onto the shared Message
// shape. Envelope addresses are re-rendered as an address-list string so
// the same header parsing applies to both sources.
func messageFromBuffer(buf *imapclient.FetchMessageBuffer) mail.Message {
	m := mail.Message{
		ID: strconv.FormatUint(uint64(buf.UID), 10),
	}
	if buf.Envelope == nil {
		return m
	}
	m.Subject = buf.Envelope.Subject
	m.From = joinAddresses(buf.Envelope.From)
	m.To = joinAddresses(buf.Envelope.To)
	m.Cc = joinAddresses(buf.Envelope.Cc)
	m.Bcc = joinAddresses(buf.Envelope.Bcc)
	return m
}

func joinAddresses(addrs []imap.Address) string {
	var parts []string
	for _, a := range addrs {
		if a.Mailbox == "" || a.Host == "" {
			continue
		}
		parts = append(parts, a.Addr())
	}
	return strings.Join(parts, ", ")
}

// Compile-time check that Source implements the scan contract.
var _ mail.Source = (*Source)(nil)
