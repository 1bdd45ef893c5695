package main

import (
	"fmt"
	"io"

	"github.com/zhouzirui/z-tavern/streamview/internal/model/chat"
	"github.com/zhouzirui/z-tavern/streamview/internal/view"
)

// printer 把视图变化写成终端上的打字机输出。只在 render loop 上调用。
type printer struct {
	out     io.Writer
	current string
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

func (p *printer) handle(c view.Change) {
	switch c.Kind {
	case view.ChangeAppended:
		if c.Sender != chat.SenderBot {
			return
		}
		p.breakLine()
		p.current = c.MessageID
		fmt.Fprint(p.out, "bot> ", c.Text)
	case view.ChangeContent:
		if c.MessageID != p.current {
			return
		}
		fmt.Fprint(p.out, c.Text)
	case view.ChangeFinalized:
		if c.MessageID == p.current {
			p.breakLine()
		}
	case view.ChangeValence:
		fmt.Fprintf(p.out, "[mood: %s] ", c.Text)
	}
}

func (p *printer) breakLine() {
	if p.current != "" {
		fmt.Fprintln(p.out)
		p.current = ""
	}
}
