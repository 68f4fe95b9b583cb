// Command parlor-tui is a terminal client for the parlor chat relay.
package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
	"github.com/jroimartin/gocui"
	"github.com/urfave/cli"

	"parlor/internal/client"
	"parlor/internal/protocol"
)

func main() {
	app := cli.NewApp()
	app.Name = "parlor-tui"
	app.Usage = "Terminal client for the parlor chat relay"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "host,H",
			Usage: "Relay host",
			Value: protocol.DefaultHost,
		},
		cli.IntFlag{
			Name:  "port,p",
			Usage: "Relay port",
			Value: protocol.DefaultPort,
		},
		cli.StringFlag{
			Name:  "user,u",
			Usage: "Username to join with",
		},
	}
	app.Action = runTUI

	if err := app.Run(os.Args); err != nil {
		fmt.Printf("Error: %s\n", err.Error())
		os.Exit(1)
	}
}

func runTUI(c *cli.Context) error {
	username := c.String("user")
	if !protocol.ValidUsername(username) {
		return fmt.Errorf("--user is required: 2-20 letters, digits or underscore")
	}

	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return err
	}
	defer g.Close()

	ui := &chatUI{gui: g, username: username}
	ui.client = client.New(ui)

	g.SetManagerFunc(ui.layout)
	g.Cursor = true

	if err := g.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone, ui.quit); err != nil {
		return err
	}
	if err := g.SetKeybinding("input", gocui.KeyEnter, gocui.ModNone, ui.submit); err != nil {
		return err
	}

	if err := ui.client.Connect(c.String("host"), c.Int("port"), username); err != nil {
		return err
	}
	defer ui.client.Disconnect()

	if err := g.MainLoop(); err != nil && err != gocui.ErrQuit {
		return err
	}
	return nil
}

type chatUI struct {
	gui      *gocui.Gui
	client   *client.Client
	username string
	users    []string
}

func (ui *chatUI) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()
	sidebar := 22
	msgWidth := maxX - sidebar - 1

	if v, err := g.SetView("messages", 0, 0, msgWidth, maxY-4); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Messages"
		v.Wrap = true
		v.Autoscroll = true
	}

	if v, err := g.SetView("users", msgWidth+1, 0, maxX-1, maxY-4); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Online"
		v.Wrap = true
	}

	if v, err := g.SetView("input", 0, maxY-3, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = fmt.Sprintf("%s | /msg <user> <text>, /file <path> [user], /quit", ui.username)
		v.Editable = true
		if _, err := g.SetCurrentView("input"); err != nil {
			return err
		}
	}

	return nil
}

func (ui *chatUI) quit(*gocui.Gui, *gocui.View) error {
	return gocui.ErrQuit
}

func (ui *chatUI) submit(g *gocui.Gui, v *gocui.View) error {
	text := strings.TrimSpace(v.Buffer())
	v.Clear()
	if err := v.SetCursor(0, 0); err != nil {
		return err
	}
	if text == "" {
		return nil
	}

	switch {
	case text == "/quit":
		return gocui.ErrQuit
	case strings.HasPrefix(text, "/file "):
		ui.sendAttachment(strings.Fields(text)[1:])
	default:
		ui.client.SendNormal(text)
		if !protocol.IsPrivateCommand(text) {
			ui.appendLine(fmt.Sprintf("%s: %s", ui.username, text))
		}
	}
	return nil
}

// sendAttachment reads a local file, base64-encodes it and ships it as an
// image or generic file depending on its sniffed content type.
func (ui *chatUI) sendAttachment(args []string) {
	if len(args) < 1 {
		ui.appendLine("usage: /file <path> [user]")
		return
	}
	path := args[0]
	recipient := ""
	if len(args) > 1 {
		recipient = args[1]
	}

	data, err := os.ReadFile(path)
	if err != nil {
		ui.appendLine("cannot read " + path + ": " + err.Error())
		return
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	name := filepath.Base(path)

	if filetype.IsImage(data) {
		ui.client.SendImage(encoded, name, recipient)
		ui.appendLine("sent image " + name)
	} else {
		ui.client.SendFile(encoded, name, recipient)
		ui.appendLine("sent file " + name)
	}
}

// OnMessageReceived implements client.MessageListener.
func (ui *chatUI) OnMessageReceived(msg protocol.Message) {
	switch msg.Kind {
	case protocol.KindImage, protocol.KindFile:
		ui.appendLine(fmt.Sprintf("%s sent %q (%d bytes base64)", msg.Sender, msg.AttachmentName, len(msg.Content)))
	case protocol.KindPrivate:
		ui.appendLine(fmt.Sprintf("[private] %s: %s", msg.Sender, msg.Content))
	case protocol.KindVoice:
		ui.appendLine(fmt.Sprintf("%s sent a voice clip (%s)", msg.Sender, msg.AttachmentName))
	default:
		ui.appendLine(fmt.Sprintf("%s: %s", msg.Sender, msg.Content))
	}
}

// OnConnectionStatusChanged implements client.MessageListener.
func (ui *chatUI) OnConnectionStatusChanged(connected bool, status string) {
	ui.appendLine("* " + status)
	if !connected {
		ui.gui.Update(func(*gocui.Gui) error {
			return gocui.ErrQuit
		})
	}
}

// OnUserListUpdated implements client.MessageListener.
func (ui *chatUI) OnUserListUpdated(users []string) {
	ui.users = users
	ui.gui.Update(func(g *gocui.Gui) error {
		v, err := g.View("users")
		if err != nil {
			return nil
		}
		v.Clear()
		for _, u := range users {
			fmt.Fprintln(v, u)
		}
		return nil
	})
}

func (ui *chatUI) appendLine(line string) {
	ui.gui.Update(func(g *gocui.Gui) error {
		v, err := g.View("messages")
		if err != nil {
			return nil
		}
		fmt.Fprintln(v, line)
		return nil
	})
}
