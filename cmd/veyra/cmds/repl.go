package cmds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/veyra/pkg/attachments"
	"github.com/go-go-golems/veyra/pkg/backend"
	"github.com/go-go-golems/veyra/pkg/chaterrors"
	"github.com/go-go-golems/veyra/pkg/conversation"
	"github.com/go-go-golems/veyra/pkg/session"
)

const replHelp = `Commands:
  /new                     start a new conversation
  /list                    list conversations, most recent first
  /switch <n|id>           switch to a conversation
  /delete [n|id]           delete a conversation (default: the active one)
  /model [id]              show the known models or set the model
  /attach <path>...        upload files for the next message
  /drop <name|id>          remove a staged file
  /edit <n|id> <text>      edit a sent message and regenerate the reply
  /history                 show the active conversation
  /export <path>           write the active conversation as yaml
  /import <path>           load a conversation exported with /export
  /memories [clear]        show or delete the saved memories
  /theme                   toggle the theme
  /quit                    wait for pending replies and exit
Anything else is sent to the active conversation.
`

// repl is the line oriented chat front end. Every controller operation
// publishes its own notifications, only errors of other operations are
// printed here.
type repl struct {
	app *App
	out io.Writer

	inflight []*session.ExecutionHandle
}

func newREPL(app *App, out io.Writer) *repl {
	return &repl{app: app, out: out}
}

func (r *repl) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

func (r *repl) report(err error) {
	if err != nil {
		r.printf("! %s\n", chaterrors.UserMessage(err))
	}
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	ctrl := r.app.Controller
	if list, err := ctrl.LoadConversations(ctx); err == nil {
		r.printf("%d conversations, /list to show them, /help for commands\n", len(list))
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			r.send(ctx, line)
			continue
		}
		quit, err := r.command(ctx, line)
		if err != nil {
			return err
		}
		if quit {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "could not read input")
	}

	r.waitInflight()
	return nil
}

func (r *repl) waitInflight() {
	pending := 0
	for _, h := range r.inflight {
		if h.IsRunning() {
			pending++
		}
	}
	if pending > 0 {
		r.printf("* waiting for %d replies\n", pending)
	}
	for _, h := range r.inflight {
		_, _ = h.Wait()
	}
	r.inflight = nil
}

func (r *repl) track(h *session.ExecutionHandle) {
	if h == nil {
		return
	}
	kept := r.inflight[:0]
	for _, o := range r.inflight {
		if o.IsRunning() {
			kept = append(kept, o)
		}
	}
	r.inflight = append(kept, h)
}

// send starts a new conversation first if none is active.
func (r *repl) send(ctx context.Context, text string) {
	ctrl := r.app.Controller
	if ctrl.Conversations().ActiveID() == "" {
		if _, err := ctrl.NewConversation(ctx); err != nil {
			return
		}
	}
	h, err := ctrl.Send(ctx, text)
	if err != nil {
		log.Debug().Err(err).Msg("send rejected")
		return
	}
	r.track(h)
}

func (r *repl) command(ctx context.Context, line string) (bool, error) {
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	ctrl := r.app.Controller

	switch name {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		r.printf("%s", replHelp)

	case "/new":
		_, _ = ctrl.NewConversation(ctx)

	case "/list":
		r.list()

	case "/switch":
		id, err := r.resolveConversation(rest)
		if err != nil {
			r.report(err)
			return false, nil
		}
		_, _ = ctrl.Select(ctx, id)

	case "/delete":
		id := ctrl.Conversations().ActiveID()
		if rest != "" {
			var err error
			if id, err = r.resolveConversation(rest); err != nil {
				r.report(err)
				return false, nil
			}
		}
		if id == "" {
			r.printf("! No conversation selected\n")
			return false, nil
		}
		_ = ctrl.DeleteConversation(ctx, id)

	case "/model":
		r.model(rest)

	case "/attach":
		r.attach(ctx, rest)

	case "/drop":
		r.drop(rest)

	case "/edit":
		r.edit(ctx, rest)

	case "/history":
		r.history()

	case "/export":
		r.report(r.export(rest))

	case "/import":
		r.report(r.importConversation(rest))

	case "/memories":
		r.memories(ctx, rest)

	case "/theme":
		r.app.Settings.Theme = r.app.Settings.Theme.Toggle()
		r.printf("* theme: %s\n", r.app.Settings.Theme)

	default:
		r.printf("! unknown command %s, /help lists the commands\n", name)
	}
	return false, nil
}

// resolveConversation accepts a 1-based position in /list or an id.
func (r *repl) resolveConversation(arg string) (string, error) {
	if arg == "" {
		return "", errors.New("which conversation?")
	}
	list := r.app.Controller.Conversations().List()
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(list) {
			return "", errors.Errorf("no conversation %d", n)
		}
		return list[n-1].ID, nil
	}
	return arg, nil
}

func (r *repl) list() {
	convs := r.app.Controller.Conversations()
	list := convs.List()
	if len(list) == 0 {
		r.printf("no conversations\n")
		return
	}
	active := convs.ActiveID()
	now := time.Now()
	for i, c := range list {
		marker := " "
		if c.ID == active {
			marker = "*"
		}
		state := ""
		if r.app.Controller.State(c.ID) == session.StateSending {
			state = " (sending)"
		}
		r.printf("%s %2d. %s [%s] %s%s\n",
			marker, i+1, c.GetTitle(), conversation.ModelDisplayName(c.Model),
			conversation.FormatLastActivity(c.LastMessageAt, now), state)
	}
}

func (r *repl) model(arg string) {
	ctrl := r.app.Controller
	if arg == "" {
		current := ""
		if c, err := ctrl.Conversations().Active(); err == nil {
			current = c.Model
		}
		for _, m := range conversation.KnownModels {
			marker := " "
			if m.ID == current {
				marker = "*"
			}
			r.printf("%s %-20s %s\n", marker, m.ID, m.DisplayName)
		}
		return
	}
	if !conversation.IsKnownModel(arg) {
		log.Warn().Str("model", arg).Msg("model is not in the catalog")
	}
	id := ctrl.Conversations().ActiveID()
	if id == "" {
		r.printf("! No conversation selected\n")
		return
	}
	_ = ctrl.SetModel(id, arg)
}

func (r *repl) attach(ctx context.Context, arg string) {
	if arg == "" {
		r.printf("! which file?\n")
		return
	}
	paths := strings.Fields(arg)
	if _, err := os.Stat(arg); err == nil {
		paths = []string{arg}
	}

	files := make([]*backend.File, 0, len(paths))
	for _, p := range paths {
		file, err := attachments.FileFromPath(p)
		if err != nil {
			r.report(err)
			continue
		}
		files = append(files, file)
	}
	if len(files) == 0 {
		return
	}

	results, _ := r.app.Controller.Attachments().UploadAll(ctx, files)
	for _, res := range results {
		// failures of started uploads are reported through the upload events
		if res.Err != nil && res.Upload == nil {
			r.report(res.Err)
		}
	}
}

func (r *repl) drop(arg string) {
	atts := r.app.Controller.Attachments()
	for _, a := range atts.Staged() {
		if a.ID == arg || a.Name == arg {
			r.report(atts.Remove(a.ID))
			return
		}
	}
	r.printf("! %s is not attached\n", arg)
}

func (r *repl) edit(ctx context.Context, arg string) {
	ref, text, _ := strings.Cut(arg, " ")
	text = strings.TrimSpace(text)
	if ref == "" || text == "" {
		r.printf("! usage: /edit <n|id> <text>\n")
		return
	}

	ctrl := r.app.Controller
	id := ref
	if n, err := strconv.Atoi(ref); err == nil {
		msgs, err := ctrl.Messages().Messages(ctrl.Conversations().ActiveID())
		if err != nil {
			r.report(err)
			return
		}
		if n < 1 || n > len(msgs) {
			r.printf("! no message %d\n", n)
			return
		}
		id = msgs[n-1].ID
	}

	h, err := ctrl.Edit(ctx, id, text)
	if err != nil {
		return
	}
	if h == nil {
		r.printf("* nothing changed\n")
		return
	}
	r.track(h)
}

func (r *repl) history() {
	ctrl := r.app.Controller
	c, err := ctrl.Conversations().Active()
	if err != nil {
		r.report(err)
		return
	}
	msgs, err := ctrl.Messages().Messages(c.ID)
	if err != nil {
		r.report(err)
		return
	}

	r.printf("%s [%s]\n", c.GetTitle(), conversation.ModelDisplayName(c.Model))
	for i, m := range msgs {
		edited := ""
		if m.IsEdited {
			edited = " (edited)"
		}
		r.printf("%2d. %s%s: %s\n", i+1, m.Role, edited, m.Content)
		for _, a := range m.Attachments {
			r.printf("      + %s (%s)\n", a.Name, a.MimeType)
		}
	}
	if staged := ctrl.Attachments().Staged(); len(staged) > 0 {
		names := make([]string, 0, len(staged))
		for _, a := range staged {
			names = append(names, a.Name)
		}
		r.printf("attached for the next message: %s\n", strings.Join(names, ", "))
	}
	if n, err := conversation.EstimateTokens(c.Model, msgs); err == nil {
		r.printf("~%d tokens\n", n)
	}
}

func (r *repl) export(path string) error {
	if path == "" {
		return errors.New("usage: /export <path>")
	}
	ctrl := r.app.Controller
	c, err := ctrl.Conversations().Active()
	if err != nil {
		return err
	}
	msgs, err := ctrl.Messages().Messages(c.ID)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "could not create %s", path)
	}
	defer func() { _ = f.Close() }()
	if err := conversation.ExportYAML(f, c, msgs); err != nil {
		return err
	}
	r.printf("* exported %d messages to %s\n", len(msgs), path)
	return nil
}

// importConversation loads an export as a new local conversation.
func (r *repl) importConversation(path string) error {
	if path == "" {
		return errors.New("usage: /import <path>")
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "could not open %s", path)
	}
	defer func() { _ = f.Close() }()

	exp, err := conversation.ImportYAML(f)
	if err != nil {
		return err
	}
	ctrl := r.app.Controller
	c := conversation.NewProvisional(exp.Conversation.Model)
	c.Title = exp.Conversation.Title
	if c, err = ctrl.Conversations().Create(c); err != nil {
		return err
	}
	ctrl.Messages().ReplaceAll(c.ID, exp.Messages)
	r.printf("* imported %s with %d messages\n", c.GetTitle(), len(exp.Messages))
	return nil
}

func (r *repl) memories(ctx context.Context, arg string) {
	mem := r.app.Memories
	switch arg {
	case "":
		list, err := mem.List(ctx)
		if err != nil {
			r.report(err)
			return
		}
		printMemories(r.out, list)
	case "clear":
		if err := mem.DeleteAll(ctx); err != nil {
			r.report(err)
			return
		}
		r.printf("* all memories deleted\n")
	default:
		r.printf("! usage: /memories [clear]\n")
	}
}
