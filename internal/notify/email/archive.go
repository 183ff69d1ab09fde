package email

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// Archiver appends delivered messages to an IMAP mailbox, usually the
// account's Sent folder.
type Archiver struct {
	host     string
	port     string
	username string
	password string
	mailbox  string
}

// NewArchiver creates an Archiver. The connection always uses implicit TLS.
func NewArchiver(host, port, username, password, mailbox string) *Archiver {
	if mailbox == "" {
		mailbox = "Sent"
	}
	return &Archiver{
		host:     host,
		port:     port,
		username: username,
		password: password,
		mailbox:  mailbox,
	}
}

// Append stores msg in the archive mailbox flagged as seen.
func (a *Archiver) Append(ctx context.Context, msg []byte) error {
	addr := net.JoinHostPort(a.host, a.port)

	client, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}
	defer client.Close()

	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	if err := client.Login(a.username, a.password).Wait(); err != nil {
		return fmt.Errorf("IMAP login as %s: %w", a.username, err)
	}
	defer func() { _ = client.Logout().Wait() }()

	cmd := client.Append(a.mailbox, int64(len(msg)), &imap.AppendOptions{
		Flags: []imap.Flag{imap.FlagSeen},
		Time:  time.Now(),
	})
	if _, err := cmd.Write(msg); err != nil {
		return fmt.Errorf("writing message to %s: %w", a.mailbox, err)
	}
	if err := cmd.Close(); err != nil {
		return fmt.Errorf("closing append to %s: %w", a.mailbox, err)
	}
	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("appending to %s: %w", a.mailbox, err)
	}
	return nil
}
