package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"mailrag/internal/digest"
	"mailrag/internal/domain"
	"mailrag/internal/journal"
	"mailrag/internal/rag"
	"mailrag/internal/review"
	"mailrag/internal/textnorm"
)

// Asker is the TUI-facing subset of the answering pipeline.
type Asker interface {
	Ask(ctx context.Context, question string, k int) (rag.Answer, error)
}

// History lists the corrections recorded for a point.
type History interface {
	List(ctx context.Context, pointID uint64) ([]journal.Correction, error)
}

// Deps are the services the dashboard talks to. Table, Store, Journal and History may be nil.
type Deps struct {
	Table   *review.Table
	Asker   Asker
	Store   domain.VectorStore
	Journal review.CorrectionLog
	History History
	Summary string
	TopK    int
	Timeout time.Duration
}

type focus int

const (
	focusTable focus = iota
	focusQuestion
)

type answerMsg struct {
	question string
	answer   rag.Answer
	err      error
}

type savedMsg struct {
	res review.SaveResult
	err error
}

type countMsg struct {
	n   int
	err error
}

type historyMsg struct {
	row     int
	entries []journal.Correction
	err     error
}

// Model is the Bubble Tea model for the review dashboard.
type Model struct {
	deps     Deps
	rows     []review.Row
	grid     table.Model
	input    textinput.Model
	viewport viewport.Model
	filter   review.Filter
	labels   []domain.Label
	labelIdx int
	focus    focus
	answer   *rag.Answer
	question string
	docIdx   int
	status   string
	busy     bool
	saving   bool
	points   int
	digest   *digest.FrequencyDigest
	history  *historyMsg
	ready    bool
}

// New creates a new TUI model instance.
func New(deps Deps) Model {
	if deps.TopK <= 0 {
		deps.TopK = 5
	}
	if deps.Timeout == 0 {
		deps.Timeout = 3 * time.Minute
	}
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Pregunta en lenguaje natural y pulsa Enter"
	ti.CharLimit = 0
	grid := table.New(
		table.WithColumns(columns(80)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	m := Model{
		deps:     deps,
		grid:     grid,
		input:    ti,
		viewport: viewport.New(0, 0),
		filter:   review.DefaultFilter(),
		status:   "Cargado. Tab cambia entre tabla y pregunta.",
		points:   -1,
		digest:   digest.NewFrequencyDigest(),
	}
	if deps.Table == nil {
		m.focus = focusQuestion
		m.grid.Blur()
		m.input.Focus()
	} else {
		m.labels = deps.Table.Labels()
	}
	m.refreshRows()
	return m
}

// Init starts the cursor blink and counts the indexed points.
func (m Model) Init() tea.Cmd {
	if m.deps.Store == nil {
		return textinput.Blink
	}
	return tea.Batch(textinput.Blink, m.count())
}

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.resize(msg.Width, msg.Height)
		return m, nil
	case answerMsg:
		m.busy = false
		m.history = nil
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.answer = nil
		} else {
			m.answer = &msg.answer
			m.question = msg.question
			m.docIdx = 0
			m.status = fmt.Sprintf("Respuesta para %q (%d documentos)", msg.question, len(msg.answer.Docs))
		}
		m.viewport.SetContent(m.renderAnswer())
		return m, nil
	case savedMsg:
		m.saving = false
		if msg.err != nil {
			m.status = "Error al guardar: " + msg.err.Error()
		} else {
			m.status = fmt.Sprintf("Guardado: %d actualizados en el índice, %d no indexados", msg.res.Updated, msg.res.NotIndexed)
		}
		m.labels = m.deps.Table.Labels()
		m.refreshRows()
		if m.deps.Store == nil {
			return m, nil
		}
		return m, m.count()
	case countMsg:
		if msg.err == nil {
			m.points = msg.n
		}
		return m, nil
	case historyMsg:
		if msg.err != nil {
			m.status = "Error al leer el historial: " + msg.err.Error()
			return m, nil
		}
		m.history = &msg
		m.status = fmt.Sprintf("Historial de la fila %d (%d correcciones)", msg.row, len(msg.entries))
		m.viewport.SetContent(m.renderPane())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		if msg.Type == tea.KeyTab {
			m.toggleFocus()
			return m, nil
		}
		if m.focus == focusQuestion {
			return m.updateQuestion(msg)
		}
		if next, cmd, handled := m.updateTable(msg); handled {
			return next, cmd
		}
	}
	var cmd tea.Cmd
	if m.focus == focusTable {
		m.grid, cmd = m.grid.Update(msg)
	} else {
		m.input, cmd = m.input.Update(msg)
	}
	return m, cmd
}

func (m Model) updateQuestion(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		q := strings.TrimSpace(m.input.Value())
		if q == "" || m.busy || m.deps.Asker == nil {
			return m, nil
		}
		m.busy = true
		m.status = "Buscando y redactando respuesta..."
		return m, m.ask(q)
	case "down", "pgdown":
		if m.answer != nil && len(m.answer.Docs) > 0 {
			m.docIdx = (m.docIdx + 1) % len(m.answer.Docs)
			m.history = nil
			m.viewport.SetContent(m.renderAnswer())
			return m, nil
		}
	case "up", "pgup":
		if m.answer != nil && len(m.answer.Docs) > 0 {
			m.docIdx = (m.docIdx - 1 + len(m.answer.Docs)) % len(m.answer.Docs)
			m.history = nil
			m.viewport.SetContent(m.renderAnswer())
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateTable(msg tea.KeyMsg) (Model, tea.Cmd, bool) {
	if m.deps.Table == nil {
		return m, nil, false
	}
	switch key := msg.String(); key {
	case "q":
		return m, tea.Quit, true
	case "f":
		m.labelIdx = (m.labelIdx + 1) % (len(m.labels) + 1)
		m.filter.Label = domain.LabelNone
		if m.labelIdx > 0 {
			m.filter.Label = m.labels[m.labelIdx-1]
		}
		m.refreshRows()
	case "+", "=":
		m.filter.MinConfidence = min(1, round2(m.filter.MinConfidence+0.05))
		m.refreshRows()
	case "-":
		m.filter.MinConfidence = max(0, round2(m.filter.MinConfidence-0.05))
		m.refreshRows()
	case "d":
		if m.filter.From.IsZero() && m.filter.To.IsZero() {
			def := review.DefaultFilter()
			m.filter.From, m.filter.To = def.From, def.To
		} else {
			m.filter.From, m.filter.To = time.Time{}, time.Time{}
		}
		m.refreshRows()
	case "1", "2", "3":
		if m.saving {
			m.status = "Guardado en curso; espera para corregir"
			return m, nil, true
		}
		labels := domain.CandidateLabels()
		label := labels[int(key[0]-'1')]
		row, ok := m.selected()
		if !ok {
			m.status = "No hay fila seleccionada"
			return m, nil, true
		}
		if err := m.deps.Table.Correct(row.Index, label); err != nil {
			m.status = "Error: " + err.Error()
			return m, nil, true
		}
		m.labels = m.deps.Table.Labels()
		m.status = fmt.Sprintf("Fila %d: %s (en memoria, %d pendientes)", row.Index, label, len(m.deps.Table.Pending()))
		m.refreshRows()
	case "e":
		path := exportPath(m.deps.Table.Source())
		if err := m.deps.Table.ExportFile(path); err != nil {
			m.status = "Error al exportar: " + err.Error()
		} else {
			m.status = "CSV revisado escrito en " + path
		}
	case "h":
		row, ok := m.selected()
		if !ok || m.deps.History == nil {
			return m, nil, true
		}
		return m, m.listHistory(row), true
	case "s":
		if m.saving {
			return m, nil, true
		}
		if len(m.deps.Table.Pending()) == 0 {
			m.status = "No hay correcciones pendientes"
			return m, nil, true
		}
		m.saving = true
		m.status = "Guardando correcciones..."
		return m, m.save(), true
	default:
		return m, nil, false
	}
	return m, nil, true
}

func (m Model) ask(q string) tea.Cmd {
	asker, k, timeout := m.deps.Asker, m.deps.TopK, m.deps.Timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		ans, err := asker.Ask(ctx, q, k)
		return answerMsg{question: q, answer: ans, err: err}
	}
}

func (m Model) save() tea.Cmd {
	tb, store, log, timeout := m.deps.Table, m.deps.Store, m.deps.Journal, m.deps.Timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		res, err := tb.SaveBack(ctx, store, log)
		return savedMsg{res: res, err: err}
	}
}

func (m Model) count() tea.Cmd {
	store, timeout := m.deps.Store, m.deps.Timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		n, err := store.Count(ctx)
		return countMsg{n: n, err: err}
	}
}

func (m Model) listHistory(row review.Row) tea.Cmd {
	h, timeout := m.deps.History, m.deps.Timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		entries, err := h.List(ctx, row.ID)
		return historyMsg{row: row.Index, entries: entries, err: err}
	}
}

func (m *Model) toggleFocus() {
	if m.focus == focusTable {
		m.focus = focusQuestion
		m.grid.Blur()
		m.input.Focus()
		return
	}
	if m.deps.Table == nil {
		return
	}
	m.focus = focusTable
	m.input.Blur()
	m.grid.Focus()
}

func (m *Model) refreshRows() {
	if m.deps.Table == nil {
		m.rows = nil
		m.grid.SetRows(nil)
		return
	}
	m.rows = m.deps.Table.Rows(m.filter)
	out := make([]table.Row, len(m.rows))
	for i, r := range m.rows {
		out[i] = table.Row{
			strconv.Itoa(r.Index),
			r.Date,
			r.Sender,
			string(r.Label),
			strconv.FormatFloat(r.Confidence, 'f', 2, 64),
			oneLine(r.Text),
		}
	}
	m.grid.SetRows(out)
	if c := m.grid.Cursor(); c >= len(out) {
		m.grid.SetCursor(max(0, len(out)-1))
	}
}

func (m Model) selected() (review.Row, bool) {
	c := m.grid.Cursor()
	if c < 0 || c >= len(m.rows) {
		return review.Row{}, false
	}
	return m.rows[c], true
}

func (m *Model) resize(width, height int) {
	_, bh := boxStyle.GetFrameSize()
	headerLines := 2 + strings.Count(m.deps.Summary, "\n") + 1
	footerLines := 1
	available := height - headerLines - footerLines - 3*bh - 1
	if available < 9 {
		available = 9
	}
	gridHeight := available / 2
	m.grid.SetColumns(columns(width))
	m.grid.SetHeight(max(3, gridHeight))
	m.grid.SetWidth(max(20, width-2))
	m.viewport.Width = max(20, width-4)
	m.viewport.Height = max(3, available-gridHeight-1)
	m.viewport.SetContent(m.renderPane())
}

// View renders the dashboard layout.
func (m Model) View() string {
	if !m.ready {
		return "Cargando..."
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("Clasificación de emails + RAG"))
	b.WriteString("\n")
	if m.deps.Summary != "" {
		b.WriteString(dimStyle.Render(m.deps.Summary))
		b.WriteString("\n")
	}
	if m.deps.Table != nil {
		b.WriteString(dimStyle.Render(m.filterLine()))
		b.WriteString("\n")
		b.WriteString(boxStyle.Render(m.grid.View()))
		b.WriteString("\n")
	}
	b.WriteString(boxStyle.Render(m.viewport.View()))
	b.WriteString("\n")
	b.WriteString(boxStyle.Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(statusStyle.Render(m.status))
	return b.String()
}

func (m Model) filterLine() string {
	label := "(todos)"
	if m.filter.Label != domain.LabelNone {
		label = string(m.filter.Label)
	}
	dates := "sin rango"
	if !m.filter.From.IsZero() || !m.filter.To.IsZero() {
		dates = m.filter.From.Format("2006-01-02") + ".." + m.filter.To.Format("2006-01-02")
	}
	line := fmt.Sprintf("tipo: %s [f] | confianza ≥ %.2f [+/-] | fechas: %s [d] | %d/%d filas | corregir [1-3] historial [h] exportar [e] guardar [s]",
		label, m.filter.MinConfidence, dates, len(m.rows), m.deps.Table.Len())
	if m.points >= 0 {
		line += fmt.Sprintf(" | %d puntos en el índice", m.points)
	}
	return line
}

// renderPane shows the correction history when one was requested, else the answer.
func (m Model) renderPane() string {
	if m.history == nil {
		return m.renderAnswer()
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Historial de la fila %d", m.history.row)))
	b.WriteString("\n")
	if len(m.history.entries) == 0 {
		b.WriteString("Sin correcciones guardadas.")
		return b.String()
	}
	for _, c := range m.history.entries {
		prev := string(c.PreviousLabel)
		if prev == "" {
			prev = "(sin etiqueta)"
		}
		fmt.Fprintf(&b, "%s  %s → %s  (%s)\n", c.CorrectedAt.Format("2006-01-02 15:04"), prev, c.NewLabel, c.Source)
	}
	return b.String()
}

func (m Model) renderAnswer() string {
	if m.answer == nil {
		return "Sin respuesta todavía."
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("Respuesta"))
	b.WriteString("\n")
	b.WriteString(m.answer.Text)
	b.WriteString("\n\n")
	if len(m.answer.Docs) == 0 {
		return b.String()
	}
	d := m.answer.Docs[m.docIdx]
	b.WriteString(titleStyle.Render(fmt.Sprintf("Doc %d/%d  score=%.3f  %s | %s | %s",
		m.docIdx+1, len(m.answer.Docs), d.Score, d.Sender(), d.Date(), d.Label())))
	b.WriteString("\n")
	if key := m.digest.KeySentence(d.Text()); key != "" {
		b.WriteString(dimStyle.Render("Clave: " + oneLine(key)))
		b.WriteString("\n")
	}
	b.WriteString(highlightBestSentence(d.Text(), m.question))
	return b.String()
}

func columns(width int) []table.Column {
	text := max(20, width-4-6-12-22-22-6-12)
	return []table.Column{
		{Title: "#", Width: 4},
		{Title: "fecha", Width: 10},
		{Title: "remitente", Width: 20},
		{Title: "etiqueta", Width: 20},
		{Title: "conf", Width: 4},
		{Title: "texto", Width: text},
	}
}

// exportPath names the reviewed copy next to the source file.
func exportPath(source string) string {
	if source == "" {
		return "emails_revisado.csv"
	}
	ext := filepath.Ext(source)
	return strings.TrimSuffix(source, ext) + "_revisado" + ext
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

var (
	boxStyle       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	titleStyle     = lipgloss.NewStyle().Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := textnorm.WordSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx := 0
	bestScore := -1
	for i, s := range sentences {
		score := tokenOverlapScore(qTokens, s)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return strings.Join(sentences, " ")
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	for t := range textnorm.WordSet(sentence) {
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
