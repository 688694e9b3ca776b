// Package shell implements the interactive command-line client: a REPL
// over a storage.Engine, grounded on the teacher's root-level client.go but
// rebuilt against the document-store engine's write/read/delete/commit/
// rollback API instead of the teacher's typed scalar store.
package shell

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/neebdev/valoradb/internal/parser"
	"github.com/neebdev/valoradb/internal/storage"
)

// Shell runs a line-oriented REPL against an Engine.
type Shell struct {
	engine *storage.Engine
	in     *bufio.Scanner
	out    io.Writer

	activeTxn string
}

// New creates a shell reading from in and writing to out.
func New(engine *storage.Engine, in io.Reader, out io.Writer) *Shell {
	return &Shell{
		engine: engine,
		in:     bufio.NewScanner(in),
		out:    out,
	}
}

// Run reads commands until EOF or an EXIT line, returning nil on a clean
// exit.
func (s *Shell) Run() error {
	fmt.Fprintln(s.out, "valoradb document store")
	fmt.Fprintln(s.out, "commands: BEGIN COMMIT ROLLBACK WRITE READ DELETE STATUS CHECKPOINT EXIT")

	for {
		if s.activeTxn != "" {
			fmt.Fprintf(s.out, "valoradb[%s]> ", s.activeTxn[:8])
		} else {
			fmt.Fprint(s.out, "valoradb> ")
		}

		if !s.in.Scan() {
			break
		}
		line := strings.TrimSpace(s.in.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "EXIT") || strings.EqualFold(line, "QUIT") {
			break
		}

		s.execute(line)
	}

	fmt.Fprintln(s.out, "goodbye")
	return s.in.Err()
}

func (s *Shell) execute(line string) {
	cmd, err := parser.ParseCommand(line)
	if err != nil {
		fmt.Fprintln(s.out, "error:", err)
		return
	}

	switch cmd.Type {
	case parser.CmdBegin:
		s.begin()
	case parser.CmdCommit:
		s.commit()
	case parser.CmdRollback:
		s.rollback()
	case parser.CmdWrite:
		s.write(cmd)
	case parser.CmdRead:
		s.read(cmd)
	case parser.CmdDelete:
		s.delete(cmd)
	case parser.CmdStatus:
		s.status()
	case parser.CmdCheckpoint:
		s.checkpoint()
	}
}

func (s *Shell) withTxn() (string, bool) {
	if s.activeTxn == "" {
		fmt.Fprintln(s.out, "error: no active transaction; run BEGIN first")
		return "", false
	}
	return s.activeTxn, true
}

func (s *Shell) begin() {
	if s.activeTxn != "" {
		fmt.Fprintln(s.out, "error: already inside transaction", s.activeTxn)
		return
	}
	id, err := s.engine.Begin()
	if err != nil {
		fmt.Fprintln(s.out, "error:", err)
		return
	}
	s.activeTxn = id
	fmt.Fprintln(s.out, "began transaction", id)
}

func (s *Shell) commit() {
	id, ok := s.withTxn()
	if !ok {
		return
	}
	if err := s.engine.Commit(id); err != nil {
		fmt.Fprintln(s.out, "error:", err)
	} else {
		fmt.Fprintln(s.out, "committed", id)
	}
	s.activeTxn = ""
}

func (s *Shell) rollback() {
	id, ok := s.withTxn()
	if !ok {
		return
	}
	if err := s.engine.Rollback(id); err != nil {
		fmt.Fprintln(s.out, "error:", err)
	} else {
		fmt.Fprintln(s.out, "rolled back", id)
	}
	s.activeTxn = ""
}

func (s *Shell) write(cmd *parser.Command) {
	id, ok := s.withTxn()
	if !ok {
		return
	}
	var patch any
	if err := json.Unmarshal(cmd.Patch, &patch); err != nil {
		fmt.Fprintln(s.out, "error:", err)
		return
	}
	if err := s.engine.Write(id, cmd.Key, patch); err != nil {
		fmt.Fprintln(s.out, "error:", err)
		return
	}
	fmt.Fprintln(s.out, "ok")
}

func (s *Shell) read(cmd *parser.Command) {
	id, ok := s.withTxn()
	if !ok {
		return
	}
	value, err := s.engine.Read(id, cmd.Key)
	if err != nil {
		fmt.Fprintln(s.out, "error:", err)
		return
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fmt.Fprintln(s.out, "error:", err)
		return
	}
	fmt.Fprintln(s.out, string(data))
}

func (s *Shell) delete(cmd *parser.Command) {
	id, ok := s.withTxn()
	if !ok {
		return
	}
	if err := s.engine.Delete(id, cmd.Key); err != nil {
		fmt.Fprintln(s.out, "error:", err)
		return
	}
	fmt.Fprintln(s.out, "ok")
}

func (s *Shell) status() {
	active := s.engine.ActiveTransactions()
	fmt.Fprintf(s.out, "%d active transaction(s)\n", len(active))
	for _, id := range active {
		fmt.Fprintln(s.out, " -", id)
	}
}

func (s *Shell) checkpoint() {
	if err := s.engine.ForceCheckpoint(); err != nil {
		fmt.Fprintln(s.out, "error:", err)
		return
	}
	fmt.Fprintln(s.out, "checkpoint written")
}
