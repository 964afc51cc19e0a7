// Package mcpserver exposes a dictation session as MCP tools so agents can
// read the pad, feed it fragments and manage saved notes.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jwulff/dictapad/internal/normalize"
	"github.com/jwulff/dictapad/internal/notes"
	"github.com/jwulff/dictapad/internal/session"
	"github.com/jwulff/dictapad/internal/transcript"
)

// Options configures the server identity.
type Options struct {
	Name    string
	Version string
	Logger  *slog.Logger
}

// Server wires session operations to MCP tools.
type Server struct {
	sess *session.Session
	mcp  *server.MCPServer
	log  *slog.Logger
}

// New registers every tool against sess.
func New(sess *session.Session, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "dictapad"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		sess: sess,
		mcp:  server.NewMCPServer(opts.Name, opts.Version, server.WithToolCapabilities(false)),
		log:  opts.Logger,
	}
	s.register()
	return s
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// ServeStdio blocks serving requests on stdin/stdout.
func (s *Server) ServeStdio() error {
	s.log.Info("serving MCP over stdio")
	if err := server.ServeStdio(s.mcp); err != nil {
		return fmt.Errorf("serve stdio: %w", err)
	}
	return nil
}

func (s *Server) register() {
	s.mcp.AddTool(mcp.NewTool("get_pad",
		mcp.WithDescription("Return the pad: the committed text, the text currently displayed, and whether recording is in progress."),
	), s.handleGetPad)

	s.mcp.AddTool(mcp.NewTool("apply_fragments",
		mcp.WithDescription("Apply one batch of recognizer fragments to the pad. Final fragments are committed in order; interim fragments only affect the preview."),
		mcp.WithArray("fragments",
			mcp.Required(),
			mcp.Description("Fragments in recognizer order"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text":         map[string]any{"type": "string"},
					"is_final":     map[string]any{"type": "boolean"},
					"result_index": map[string]any{"type": "integer"},
				},
				"required": []string{"text"},
			}),
		),
	), s.handleApplyFragments)

	s.mcp.AddTool(mcp.NewTool("seed_pad",
		mcp.WithDescription("Replace the pad with the given text, normalized."),
		mcp.WithString("text", mcp.Required(), mcp.Description("New pad text")),
	), s.handleSeedPad)

	s.mcp.AddTool(mcp.NewTool("clear_pad",
		mcp.WithDescription("Clear the pad."),
	), s.handleClearPad)

	s.mcp.AddTool(mcp.NewTool("save_note",
		mcp.WithDescription("Save the pad as a new note. When text is given it is saved instead and the pad is left alone."),
		mcp.WithString("text", mcp.Description("Text to save instead of the pad")),
	), s.handleSaveNote)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List saved notes, newest first, with their positions."),
	), s.handleListNotes)

	s.mcp.AddTool(mcp.NewTool("delete_note",
		mcp.WithDescription("Delete the note at a position from list_notes."),
		mcp.WithNumber("index", mcp.Required(), mcp.Description("Zero-based note position")),
	), s.handleDeleteNote)

	s.mcp.AddTool(mcp.NewTool("send_note_to_pad",
		mcp.WithDescription("Replace the pad with the note at a position from list_notes."),
		mcp.WithNumber("index", mcp.Required(), mcp.Description("Zero-based note position")),
	), s.handleSendNoteToPad)

	s.mcp.AddTool(mcp.NewTool("normalize_text",
		mcp.WithDescription("Normalize dictated text without touching the pad. Spoken punctuation words: "+
			strings.Join(normalize.Keywords(), ", ")+"."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Raw dictated text")),
	), s.handleNormalizeText)
}

type padView struct {
	Text      string `json:"text"`
	Display   string `json:"display"`
	Recording bool   `json:"recording"`
	Notes     int    `json:"notes"`
}

type noteView struct {
	Index     int    `json:"index"`
	ID        string `json:"id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
	Stamp     string `json:"stamp"`
}

type toolFragment struct {
	Text        string `json:"text"`
	IsFinal     bool   `json:"is_final"`
	ResultIndex int    `json:"result_index"`
}

func (s *Server) handleGetPad(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(padView{
		Text:      s.sess.Text(),
		Display:   s.sess.Display(),
		Recording: s.sess.Recording(),
		Notes:     s.sess.NoteCount(),
	})
}

func (s *Server) handleApplyFragments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, ok := request.GetArguments()["fragments"]
	if !ok {
		return mcp.NewToolResultError("fragments is required"), nil
	}
	batch, err := decodeFragments(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	p := s.sess.Apply(batch)
	return jsonResult(map[string]string{
		"display":       p.DisplayText,
		"authoritative": p.AuthoritativeText,
	})
}

func decodeFragments(raw any) ([]transcript.Fragment, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode fragments: %w", err)
	}
	var in []toolFragment
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("fragments must be an array of {text, is_final, result_index}: %w", err)
	}
	batch := make([]transcript.Fragment, 0, len(in))
	for _, f := range in {
		batch = append(batch, transcript.Fragment{Text: f.Text, IsFinal: f.IsFinal, ResultIndex: f.ResultIndex})
	}
	return batch, nil
}

func (s *Server) handleSeedPad(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(s.sess.Seed(text)), nil
}

func (s *Server) handleClearPad(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.sess.Reset()
	return mcp.NewToolResultText("Pad cleared"), nil
}

func (s *Server) handleSaveNote(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var (
		n   notes.Note
		err error
	)
	if text, ok := request.GetArguments()["text"].(string); ok {
		n, err = s.sess.SaveText(text)
	} else {
		n, err = s.sess.Save()
	}
	if err != nil {
		return domainError(err)
	}
	return jsonResult(toView(0, n))
}

func (s *Server) handleListNotes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list := s.sess.Notes()
	views := make([]noteView, 0, len(list))
	for i, n := range list {
		views = append(views, toView(i, n))
	}
	return jsonResult(views)
}

func (s *Server) handleDeleteNote(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	index, err := request.RequireInt("index")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.sess.Delete(index); err != nil {
		return domainError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Deleted note %d", index)), nil
}

func (s *Server) handleSendNoteToPad(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	index, err := request.RequireInt("index")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.sess.SendToPad(index)
	if err != nil {
		return domainError(err)
	}
	return mcp.NewToolResultText(n.Text), nil
}

func (s *Server) handleNormalizeText(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(normalize.Text(text)), nil
}

func toView(index int, n notes.Note) noteView {
	return noteView{
		Index:     index,
		ID:        n.ID,
		Text:      n.Text,
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
		Stamp:     n.Stamp,
	}
}

// domainError reports note store rejections as tool errors. Anything else
// is a protocol failure.
func domainError(err error) (*mcp.CallToolResult, error) {
	if errors.Is(err, notes.ErrEmptyText) || errors.Is(err, notes.ErrIndex) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return nil, err
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
