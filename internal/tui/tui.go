package tui

import (
	"context"
	"fmt"
	"strings"

	goerrors "github.com/go-errors/errors"
	"github.com/jesseduffield/gocui"

	"github.com/Joseda-hg/notegrid/internal/engine"
	"github.com/Joseda-hg/notegrid/internal/model"
)

const (
	viewHeader   = "header"
	viewFooter   = "footer"
	viewDo       = "do"
	viewDecide   = "decide"
	viewDelegate = "delegate"
	viewDelete   = "delete"
	viewInbox    = "inbox"
	viewDetail   = "detail"
	viewLinks    = "links"
	viewSyncLog  = "synclog"
	viewSearch   = "search"
	viewForm     = "form"
	viewHelp     = "help"
)

const syncLogRows = 50

// Preferences is the persisted state the UI reads besides the document.
type Preferences interface {
	Theme(ctx context.Context) model.Theme
	SetTheme(ctx context.Context, theme model.Theme) error
	SyncLog(ctx context.Context, limit int) ([]model.SyncLogEntry, error)
}

type UI struct {
	engine  *engine.Engine
	session *engine.Session
	prefs   Preferences
	gui     *gocui.Gui

	tasks    map[string][]model.Task
	selected map[string]int

	links        []model.Link
	selectedLink int

	syncLog     []model.SyncLogEntry
	selectedLog int

	focus        string
	query        string
	theme        model.Theme
	syncStatus   string
	form         *formState
	formEditor   *formEditor
	searchActive bool
	helpActive   bool
	status       string
}

type formState struct {
	kind   formKind
	taskID string
	fields []formField
	index  int
}

type formEditor struct {
	ui *UI
}

func newUI(eng *engine.Engine, session *engine.Session, prefs Preferences) *UI {
	u := &UI{
		engine:   eng,
		session:  session,
		prefs:    prefs,
		tasks:    make(map[string][]model.Task),
		selected: make(map[string]int),
		focus:    viewDo,
		theme:    model.ThemeSystem,
	}
	u.formEditor = &formEditor{ui: u}
	if prefs != nil {
		u.theme = prefs.Theme(context.Background())
	}
	return u
}

// Run shows the matrix until the user quits. The session must already be
// started; the UI only nudges it.
func Run(eng *engine.Engine, session *engine.Session, prefs Preferences) error {
	gui, err := gocui.NewGui(gocui.NewGuiOpts{OutputMode: gocui.OutputNormal})
	if err != nil {
		return err
	}
	defer gui.Close()

	ui := newUI(eng, session, prefs)
	ui.gui = gui
	gui.Mouse = true

	gui.SetManagerFunc(ui.layout)
	if err := ui.bindKeys(gui); err != nil {
		return err
	}
	if err := ui.loadTasks(); err != nil {
		return err
	}
	if session != nil {
		session.SetForeground(true)
	}

	stop := ui.watchEvents(gui)
	defer stop()

	if err := gui.MainLoop(); err != nil && !goerrors.Is(err, gocui.ErrQuit) {
		return err
	}
	return nil
}

// watchEvents re-renders whenever the engine reports sync activity.
func (u *UI) watchEvents(gui *gocui.Gui) func() {
	events, unsubscribe := u.engine.Subscribe(32)
	go func() {
		for event := range events {
			event := event
			gui.Update(func(*gocui.Gui) error {
				u.applyEvent(event)
				return u.loadTasks()
			})
		}
	}()
	return unsubscribe
}

func (u *UI) applyEvent(event engine.SyncEvent) {
	at := event.At.Local().Format("15:04:05")
	switch event.Kind {
	case engine.EventWriteSynced:
		u.syncStatus = "synced " + at
	case engine.EventWriteFailed:
		u.syncStatus = "offline, changes kept locally (" + at + ")"
	case engine.EventReadFailed:
		u.syncStatus = "offline (" + at + ")"
	case engine.EventRemoteAdopted:
		u.syncStatus = "updated from server " + at
	case engine.EventStorageFailed:
		u.syncStatus = "local save failed " + at
	}
}

type binding struct {
	view    string
	key     interface{}
	handler func(*gocui.Gui, *gocui.View) error
}

func (u *UI) bindKeys(gui *gocui.Gui) error {
	bindings := []binding{
		{"", gocui.KeyCtrlC, u.quit},
		{"", 'q', u.quit},
		{"", 'r', u.refresh},
		{"", 'g', u.clearSearch},
		{"", '/', u.startSearch},
		{"", '?', u.toggleHelp},
		{"", 'a', u.addItem},
		{"", 'e', u.editItem},
		{"", 'd', u.deleteItem},
		{"", 'x', u.toggleCompleted},
		{"", ']', u.nextQuadrant},
		{"", '[', u.prevQuadrant},
		{"", 'J', u.shiftDown},
		{"", 'K', u.shiftUp},
		{"", 'T', u.cycleTheme},
		{"", gocui.KeyTab, u.switchFocus},
		{"", '1', u.focusPane(viewDo)},
		{"", '2', u.focusPane(viewDecide)},
		{"", '3', u.focusPane(viewDelegate)},
		{"", '4', u.focusPane(viewDelete)},
		{"", '5', u.focusPane(viewInbox)},
		{"", '6', u.focusPane(viewLinks)},
		{"", '7', u.focusPane(viewSyncLog)},
		{viewSearch, gocui.KeyEnter, u.submitSearch},
		{viewSearch, gocui.KeyEsc, u.cancelSearch},
		{viewForm, gocui.KeyEnter, u.submitFormNow},
		{viewForm, gocui.KeyCtrlJ, u.submitFormNow},
		{viewForm, gocui.KeyTab, u.nextFormField},
		{viewForm, gocui.KeyBacktab, u.prevFormField},
		{viewForm, gocui.KeyArrowDown, u.nextFormField},
		{viewForm, gocui.KeyArrowUp, u.prevFormField},
		{viewForm, gocui.KeyEsc, u.cancelForm},
		{viewHelp, gocui.KeyEsc, u.closeHelp},
		{viewHelp, 'q', u.closeHelp},
		{viewHelp, '?', u.closeHelp},
	}
	for _, list := range append(append([]string{}, taskPanes...), viewLinks, viewSyncLog) {
		bindings = append(bindings,
			binding{list, gocui.KeyArrowDown, u.moveDown},
			binding{list, 'j', u.moveDown},
			binding{list, gocui.KeyArrowUp, u.moveUp},
			binding{list, 'k', u.moveUp},
		)
	}

	for _, b := range bindings {
		if err := gui.SetKeybinding(b.view, b.key, gocui.ModNone, b.handler); err != nil {
			return err
		}
	}

	for _, list := range append(append([]string{}, taskPanes...), viewLinks, viewSyncLog) {
		name := list
		if err := gui.SetViewClickBinding(&gocui.ViewMouseBinding{ViewName: name, Key: gocui.MouseLeft, Handler: func(opts gocui.ViewMouseBindingOpts) error {
			return u.onListClick(gui, name, opts)
		}}); err != nil {
			return err
		}
		if err := gui.SetKeybinding(name, gocui.MouseWheelUp, gocui.ModNone, u.scrollUp); err != nil {
			return err
		}
		if err := gui.SetKeybinding(name, gocui.MouseWheelDown, gocui.ModNone, u.scrollDown); err != nil {
			return err
		}
	}
	return nil
}

func (u *UI) layout(gui *gocui.Gui) error {
	maxX, maxY := gui.Size()
	if maxX <= 0 || maxY <= 0 {
		return nil
	}

	headerView, err := gui.SetView(viewHeader, 0, 0, maxX-1, 0, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	headerView.Frame = false
	headerView.Wrap = true
	u.renderHeader(headerView)

	footerY1 := max(maxY-2, 1)
	footerY0 := max(footerY1-2, 1)
	footerView, err := gui.SetView(viewFooter, 0, footerY0, maxX-1, footerY1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	footerView.Frame = false
	footerView.Wrap = true
	footerView.FgColor = gocui.ColorDefault | gocui.AttrDim
	u.renderFooter(footerView)

	bodyTop := 1
	bodyBottom := footerY0 - 1
	if bodyBottom < bodyTop {
		return nil
	}

	l := computeLayout(maxX, bodyBottom-bodyTop+1)
	leftX0 := 0
	midX := leftX0 + l.cellWidth
	leftX1 := leftX0 + l.matrixWidth - 1
	rightX0 := leftX1 + 1
	rightX1 := maxX - 1

	topY0 := bodyTop
	topY1 := topY0 + l.cellHeight - 1
	bottomY0 := topY1 + 1
	bottomY1 := bottomY0 + l.cellHeight - 1
	inboxY0 := bottomY1 + 1

	cells := []struct {
		name           string
		x0, y0, x1, y1 int
		color          gocui.Attribute
	}{
		{viewDo, leftX0, topY0, midX - 1, topY1, gocui.ColorRed},
		{viewDecide, midX, topY0, leftX1, topY1, gocui.ColorBlue},
		{viewDelegate, leftX0, bottomY0, midX - 1, bottomY1, gocui.ColorYellow},
		{viewDelete, midX, bottomY0, leftX1, bottomY1, gocui.ColorMagenta},
		{viewInbox, leftX0, inboxY0, leftX1, bodyBottom, gocui.ColorDefault},
	}
	for i, cell := range cells {
		view, err := gui.SetView(cell.name, cell.x0, cell.y0, cell.x1, cell.y1, 0)
		if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
			return err
		}
		view.Title = fmt.Sprintf("%d %s (%d)", i+1, paneQuadrant[cell.name].Label(), len(u.tasks[cell.name]))
		view.TitleColor = cell.color
		u.applyViewStyle(view, u.focus == cell.name, true)
		u.renderTaskList(view, u.tasks[cell.name], u.selected[cell.name], u.focus == cell.name)
	}

	detailY1 := bodyTop + l.detailHeight - 1
	linksY0 := detailY1 + 1
	linksY1 := linksY0 + l.linksHeight - 1
	logY0 := linksY1 + 1

	detailView, err := gui.SetView(viewDetail, rightX0, bodyTop, rightX1, detailY1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		detailView.Title = "Task"
		detailView.Wrap = true
	}
	u.applyViewStyle(detailView, false, false)
	u.renderDetail(detailView)

	linksView, err := gui.SetView(viewLinks, rightX0, linksY0, rightX1, linksY1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		linksView.Title = "6 Links"
		linksView.TitleColor = gocui.ColorCyan
	}
	u.applyViewStyle(linksView, u.focus == viewLinks, true)
	u.renderLinks(linksView)

	logView, err := gui.SetView(viewSyncLog, rightX0, logY0, rightX1, bodyBottom, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		logView.Title = "7 Sync log"
		logView.TitleColor = gocui.ColorGreen
	}
	u.applyViewStyle(logView, u.focus == viewSyncLog, true)
	u.renderSyncLog(logView)

	_, _ = gui.SetViewOnTop(viewHeader)
	_, _ = gui.SetViewOnTop(viewFooter)

	if u.searchActive {
		if err := u.showSearch(gui); err != nil {
			return err
		}
	} else {
		_ = gui.DeleteView(viewSearch)
	}

	if u.form != nil {
		if err := u.showForm(gui); err != nil {
			return err
		}
	} else {
		_ = gui.DeleteView(viewForm)
	}

	if u.helpActive {
		if err := u.showHelp(gui); err != nil {
			return err
		}
	} else {
		_ = gui.DeleteView(viewHelp)
	}

	if gui.CurrentView() == nil {
		_, _ = gui.SetCurrentView(u.focus)
	}
	gui.Cursor = u.searchActive || u.form != nil
	return nil
}

type layout struct {
	matrixWidth  int
	cellWidth    int
	cellHeight   int
	inboxHeight  int
	detailHeight int
	linksHeight  int
	logHeight    int
}

func computeLayout(width, height int) layout {
	safeWidth := max(width, 40)
	safeHeight := max(height, 12)

	matrixWidth := safeWidth * 2 / 3
	if safeWidth-matrixWidth < 24 {
		matrixWidth = max(safeWidth-24, safeWidth/2)
	}

	inboxHeight := max(safeHeight/4, 4)
	cellHeight := max((safeHeight-inboxHeight)/2, 4)
	inboxHeight = max(safeHeight-2*cellHeight, 3)

	detailHeight := max(safeHeight*2/5, 6)
	linksHeight := max(safeHeight/4, 4)
	logHeight := safeHeight - detailHeight - linksHeight
	if logHeight < 4 {
		logHeight = 4
		linksHeight = max(safeHeight-detailHeight-logHeight, 3)
	}

	return layout{
		matrixWidth:  matrixWidth,
		cellWidth:    matrixWidth / 2,
		cellHeight:   cellHeight,
		inboxHeight:  inboxHeight,
		detailHeight: detailHeight,
		linksHeight:  linksHeight,
		logHeight:    logHeight,
	}
}

// loadTasks refreshes every pane from the engine snapshot and the sync log.
func (u *UI) loadTasks() error {
	data, ok := u.engine.Snapshot()
	if !ok {
		u.tasks = groupTasks(nil, "")
		u.links = nil
		u.status = "waiting for account data..."
	} else {
		u.tasks = groupTasks(data.Tasks, u.query)
		u.links = data.Links
		if u.status == "waiting for account data..." {
			u.status = ""
		}
	}

	for _, pane := range taskPanes {
		u.selected[pane] = clampIndex(u.selected[pane], len(u.tasks[pane]))
	}
	u.selectedLink = clampIndex(u.selectedLink, len(u.links))

	if u.prefs != nil {
		entries, err := u.prefs.SyncLog(context.Background(), syncLogRows)
		if err != nil {
			return err
		}
		u.syncLog = entries
	}
	u.selectedLog = clampIndex(u.selectedLog, len(u.syncLog))
	return nil
}

func (u *UI) renderHeader(view *gocui.View) {
	view.Clear()
	query := strings.TrimSpace(u.query)
	if query == "" {
		query = "type / to search"
	}
	sync := u.syncStatus
	if sync == "" {
		sync = "not synced yet"
	}
	if u.engine.HasPendingWrite() {
		sync += " | saving..."
	}
	fmt.Fprintf(view, "NoteGrid | Search: %s | Sync: %s | Theme: %s", query, sync, u.theme)
}

func (u *UI) renderFooter(view *gocui.View) {
	view.Clear()
	view.SetOrigin(0, 0)
	view.SetCursor(0, 0)

	fmt.Fprintln(view, "a add | e edit | d delete | x complete | [ ] quadrant | J/K reorder | enter save (form)")
	fmt.Fprintln(view, "/ search | g clear | r refresh | T theme | tab cycle | 1-7 panes | ? help | q quit")
	if u.status != "" {
		fmt.Fprint(view, u.status)
	}
}

func (u *UI) renderTaskList(view *gocui.View, tasks []model.Task, selected int, focused bool) {
	view.Clear()
	for i, task := range tasks {
		prefix := " "
		if i == selected {
			if focused {
				prefix = ">"
			} else {
				prefix = "*"
			}
		}
		fmt.Fprintf(view, "%s %s\n", prefix, formatTaskSummary(task))
	}
	if focused {
		view.SetCursor(0, min(selected, len(tasks)-1))
	}
}

func (u *UI) renderDetail(view *gocui.View) {
	view.Clear()
	if u.focus == viewLinks {
		if link := u.selectedLinkItem(); link != nil {
			fmt.Fprint(view, strings.Join([]string{
				link.Title,
				"URL: " + link.URL,
				"Icon: " + link.Favicon,
				"Added: " + formatMillis(link.CreatedAt),
			}, "\n"))
			return
		}
	}

	selected := u.selectedTask()
	if selected == nil {
		fmt.Fprint(view, "No task selected")
		return
	}

	lines := []string{
		selected.Title,
		"Quadrant: " + selected.Q.Label(),
		"Color: " + colorName(selected.Color),
		"Tags: " + joinTags(selected.Tags),
		fmt.Sprintf("Completed: %t", selected.Completed),
	}
	if selected.Kanban != "" {
		lines = append(lines, "Kanban: "+selected.Kanban)
	}
	lines = append(lines,
		"Created: "+formatMillis(selected.CreatedAt),
		"Updated: "+formatMillis(selected.UpdatedAt),
		"",
		selected.Note,
	)
	fmt.Fprint(view, strings.Join(lines, "\n"))
}

func (u *UI) renderLinks(view *gocui.View) {
	view.Clear()
	focused := u.focus == viewLinks
	for i, link := range u.links {
		prefix := " "
		if i == u.selectedLink && focused {
			prefix = ">"
		}
		fmt.Fprintf(view, "%s %s\n", prefix, formatLink(link))
	}
	if focused {
		view.SetCursor(0, min(u.selectedLink, len(u.links)-1))
	}
}

func (u *UI) renderSyncLog(view *gocui.View) {
	view.Clear()
	focused := u.focus == viewSyncLog
	for i, entry := range u.syncLog {
		prefix := " "
		if i == u.selectedLog && focused {
			prefix = ">"
		}
		fmt.Fprintf(view, "%s %s\n", prefix, formatLogEntry(entry))
	}
	if focused {
		view.SetCursor(0, min(u.selectedLog, len(u.syncLog)-1))
	}
}

func (u *UI) onListClick(gui *gocui.Gui, viewName string, opts gocui.ViewMouseBindingOpts) error {
	if u.inputActive() {
		return nil
	}
	view, err := gui.View(viewName)
	if err != nil {
		return nil
	}

	_, y0, _, _ := view.Dimensions()
	_, oy := view.Origin()
	row := max(opts.Y-y0-1+oy, 0)

	switch {
	case isTaskPane(viewName):
		u.selected[viewName] = clampIndex(row, len(u.tasks[viewName]))
	case viewName == viewLinks:
		u.selectedLink = clampIndex(row, len(u.links))
	case viewName == viewSyncLog:
		u.selectedLog = clampIndex(row, len(u.syncLog))
	}
	return u.setFocus(gui, viewName)
}

func (u *UI) scrollUp(gui *gocui.Gui, view *gocui.View) error {
	if u.inputActive() || view == nil {
		return nil
	}
	view.ScrollUp(1)
	return nil
}

func (u *UI) scrollDown(gui *gocui.Gui, view *gocui.View) error {
	if u.inputActive() || view == nil {
		return nil
	}
	view.ScrollDown(1)
	return nil
}

func (u *UI) selectedTask() *model.Task {
	if !isTaskPane(u.focus) {
		return nil
	}
	tasks := u.tasks[u.focus]
	i := u.selected[u.focus]
	if i >= 0 && i < len(tasks) {
		return &tasks[i]
	}
	return nil
}

func (u *UI) selectedLinkItem() *model.Link {
	if u.selectedLink >= 0 && u.selectedLink < len(u.links) {
		return &u.links[u.selectedLink]
	}
	return nil
}

var focusOrder = []string{viewDo, viewDecide, viewDelegate, viewDelete, viewInbox, viewLinks, viewSyncLog}

func (u *UI) switchFocus(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	next := focusOrder[0]
	for i, name := range focusOrder {
		if name == u.focus {
			next = focusOrder[(i+1)%len(focusOrder)]
			break
		}
	}
	return u.setFocus(gui, next)
}

func (u *UI) focusPane(name string) func(*gocui.Gui, *gocui.View) error {
	return func(gui *gocui.Gui, _ *gocui.View) error {
		return u.setFocus(gui, name)
	}
}

func (u *UI) setFocus(gui *gocui.Gui, name string) error {
	if u.inputActive() {
		return nil
	}
	u.focus = name
	if gui != nil {
		_, _ = gui.SetCurrentView(name)
	}
	return nil
}

func (u *UI) moveDown(gui *gocui.Gui, _ *gocui.View) error {
	return u.moveSelection(1)
}

func (u *UI) moveUp(gui *gocui.Gui, _ *gocui.View) error {
	return u.moveSelection(-1)
}

func (u *UI) moveSelection(delta int) error {
	if u.inputActive() {
		return nil
	}
	switch {
	case isTaskPane(u.focus):
		u.selected[u.focus] = clampIndex(u.selected[u.focus]+delta, len(u.tasks[u.focus]))
	case u.focus == viewLinks:
		u.selectedLink = clampIndex(u.selectedLink+delta, len(u.links))
	case u.focus == viewSyncLog:
		u.selectedLog = clampIndex(u.selectedLog+delta, len(u.syncLog))
	}
	return nil
}

func (u *UI) refresh(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	if u.session != nil {
		u.session.Focus()
	}
	u.status = "checking for updates"
	return u.loadTasks()
}

func (u *UI) startSearch(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	u.searchActive = true
	return nil
}

func (u *UI) clearSearch(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	u.query = ""
	return u.loadTasks()
}

func (u *UI) toggleHelp(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() && !u.helpActive {
		return nil
	}
	u.helpActive = !u.helpActive
	return nil
}

func (u *UI) closeHelp(gui *gocui.Gui, _ *gocui.View) error {
	u.helpActive = false
	u.closeOverlay(gui, viewHelp)
	return nil
}

func (u *UI) closeOverlay(gui *gocui.Gui, name string) {
	if gui == nil {
		return
	}
	_ = gui.DeleteView(name)
	_, _ = gui.SetCurrentView(u.focus)
}

func (u *UI) showHelp(gui *gocui.Gui) error {
	maxX, maxY := gui.Size()
	width := max(60, maxX/2)
	height := 18
	x0 := (maxX - width) / 2
	y0 := (maxY - height) / 2

	view, err := gui.SetView(viewHelp, x0, y0, x0+width, y0+height, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		view.Title = "Help"
		view.Wrap = true
	}
	view.Clear()
	fmt.Fprint(view, helpText())
	_, _ = gui.SetCurrentView(viewHelp)
	return nil
}

func (u *UI) showSearch(gui *gocui.Gui) error {
	maxX, maxY := gui.Size()
	width := max(30, maxX/2)
	height := 3
	x0 := (maxX - width) / 2
	y0 := (maxY - height) / 2

	view, err := gui.SetView(viewSearch, x0, y0, x0+width, y0+height, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		view.Title = "Search"
		view.Wrap = true
		view.Clear()
		fmt.Fprint(view, u.query)
	}
	view.Editable = true
	view.Editor = gocui.DefaultEditor
	_, _ = gui.SetCurrentView(viewSearch)
	return nil
}

func (u *UI) submitSearch(gui *gocui.Gui, view *gocui.View) error {
	u.query = strings.TrimSpace(view.Buffer())
	u.searchActive = false
	u.status = ""
	u.closeOverlay(gui, viewSearch)
	return u.loadTasks()
}

func (u *UI) cancelSearch(gui *gocui.Gui, _ *gocui.View) error {
	u.searchActive = false
	u.closeOverlay(gui, viewSearch)
	return nil
}

func (u *UI) addItem(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	if !u.engine.Ready() {
		u.status = "no account data yet"
		return nil
	}
	if u.focus == viewLinks {
		u.form = &formState{kind: formLink, fields: buildLinkForm()}
		return nil
	}
	u.form = &formState{kind: formTask, fields: buildTaskForm(nil, paneQuadrant[u.focus])}
	return nil
}

func (u *UI) editItem(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	selected := u.selectedTask()
	if selected == nil {
		return nil
	}
	u.form = &formState{kind: formTask, taskID: selected.ID, fields: buildTaskForm(selected, selected.Q)}
	return nil
}

func (u *UI) showForm(gui *gocui.Gui) error {
	if u.form == nil {
		return nil
	}

	maxX, maxY := gui.Size()
	width := max(60, maxX/2)
	height := min(12, max(8, maxY/2))
	x0 := (maxX - width) / 2
	y0 := (maxY - height) / 2

	view, err := gui.SetView(viewForm, x0, y0, x0+width, y0+height, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		view.Wrap = true
	}
	switch {
	case u.form.kind == formLink:
		view.Title = "New Link"
	case u.form.taskID != "":
		view.Title = "Edit Task"
	default:
		view.Title = "New Task"
	}
	view.Editable = true
	view.KeybindOnEdit = true
	view.Editor = u.formEditor
	u.renderForm(view)
	_, _ = gui.SetCurrentView(viewForm)
	return nil
}

func (u *UI) submitFormNow(gui *gocui.Gui, _ *gocui.View) error {
	if u.form == nil {
		return nil
	}

	switch u.form.kind {
	case formLink:
		draft, err := parseLinkForm(u.form.fields)
		if err != nil {
			u.status = err.Error()
			return nil
		}
		if _, ok := u.engine.AddLink(draft); !ok {
			u.status = "link not added"
			return nil
		}
	default:
		patch, err := parseTaskForm(u.form.fields)
		if err != nil {
			u.status = err.Error()
			return nil
		}
		if u.form.taskID == "" {
			task, ok := u.engine.AddTask(patch)
			if !ok {
				u.status = "task not added"
				return nil
			}
			u.focus = quadrantPane(task.Q)
		} else if !u.engine.UpdateTask(u.form.taskID, patch) {
			u.status = "task no longer exists"
		}
	}

	u.form = nil
	u.closeOverlay(gui, viewForm)
	return u.loadTasks()
}

func (u *UI) cancelForm(gui *gocui.Gui, _ *gocui.View) error {
	u.form = nil
	u.closeOverlay(gui, viewForm)
	return nil
}

func (u *UI) nextFormField(gui *gocui.Gui, view *gocui.View) error {
	if u.form == nil {
		return nil
	}
	if u.form.index < len(u.form.fields)-1 {
		u.form.index++
	}
	u.renderForm(view)
	return nil
}

func (u *UI) prevFormField(gui *gocui.Gui, view *gocui.View) error {
	if u.form == nil {
		return nil
	}
	if u.form.index > 0 {
		u.form.index--
	}
	u.renderForm(view)
	return nil
}

func (u *UI) renderForm(view *gocui.View) {
	if u.form == nil || view == nil {
		return
	}
	view.Clear()
	for index, field := range u.form.fields {
		prefix := "  "
		if index == u.form.index {
			prefix = "> "
		}
		value := field.Value
		if field.Options != nil {
			value = "< " + value + " >"
		}
		fmt.Fprintf(view, "%s%s: %s\n", prefix, field.Label, value)
	}
	current := u.form.fields[u.form.index]
	cursorX := len([]rune(current.Label+": ")) + len([]rune(current.Value)) + 2
	view.SetCursor(cursorX, u.form.index)
}

func (e *formEditor) Edit(view *gocui.View, key gocui.Key, ch rune, mod gocui.Modifier) bool {
	ui := e.ui
	if ui == nil || ui.form == nil || view == nil {
		return false
	}
	field := &ui.form.fields[ui.form.index]

	if field.Options != nil {
		switch key {
		case gocui.KeyArrowRight, gocui.KeySpace:
			field.Value = cycleOption(field.Options, field.Value, 1)
		case gocui.KeyArrowLeft:
			field.Value = cycleOption(field.Options, field.Value, -1)
		}
		ui.renderForm(view)
		return true
	}

	switch key {
	case gocui.KeyBackspace, gocui.KeyBackspace2:
		runes := []rune(field.Value)
		if len(runes) > 0 {
			field.Value = string(runes[:len(runes)-1])
		}
	case gocui.KeySpace:
		field.Value += " "
	case gocui.KeyCtrlU:
		field.Value = ""
	}

	if ch != 0 && ch != '\n' && ch != '\r' && mod == 0 {
		field.Value += string(ch)
	}

	ui.renderForm(view)
	return true
}

func (u *UI) deleteItem(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	if u.focus == viewLinks {
		link := u.selectedLinkItem()
		if link == nil {
			return nil
		}
		u.engine.DeleteLink(link.ID)
		return u.loadTasks()
	}

	selected := u.selectedTask()
	if selected == nil {
		return nil
	}
	u.engine.DeleteTask(selected.ID)
	return u.loadTasks()
}

func (u *UI) toggleCompleted(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	selected := u.selectedTask()
	if selected == nil {
		return nil
	}
	u.engine.UpdateTask(selected.ID, engine.TaskPatch{Completed: engine.Ptr(!selected.Completed)})
	return u.loadTasks()
}

func (u *UI) nextQuadrant(gui *gocui.Gui, _ *gocui.View) error {
	return u.shiftQuadrant(1)
}

func (u *UI) prevQuadrant(gui *gocui.Gui, _ *gocui.View) error {
	return u.shiftQuadrant(-1)
}

// shiftQuadrant moves the selected task to the end of the neighbouring
// quadrant in taskPanes order; the selection follows it.
func (u *UI) shiftQuadrant(delta int) error {
	if u.inputActive() {
		return nil
	}
	selected := u.selectedTask()
	if selected == nil {
		return nil
	}

	target := cycleOption(taskPanes, u.focus, delta)
	q := paneQuadrant[target]
	if !u.engine.MoveTask(selected.ID, engine.TaskPatch{}, u.groupSize(q), engine.QuadrantGroup(q)) {
		return nil
	}
	u.focus = target
	if err := u.loadTasks(); err != nil {
		return err
	}
	u.selected[target] = u.indexOf(target, selected.ID)
	return nil
}

func (u *UI) shiftDown(gui *gocui.Gui, _ *gocui.View) error {
	return u.shiftWithinPane(1)
}

func (u *UI) shiftUp(gui *gocui.Gui, _ *gocui.View) error {
	return u.shiftWithinPane(-1)
}

// shiftWithinPane swaps the selected item with its neighbour.
func (u *UI) shiftWithinPane(delta int) error {
	if u.inputActive() {
		return nil
	}

	if u.focus == viewLinks {
		from := u.selectedLink
		to := from + delta
		if from < 0 || to < 0 || to >= len(u.links) {
			return nil
		}
		ids := make([]string, len(u.links))
		for i, link := range u.links {
			ids[i] = link.ID
		}
		ids[from], ids[to] = ids[to], ids[from]
		if u.engine.ReorderLinks(ids) {
			u.selectedLink = to
		}
		return u.loadTasks()
	}

	selected := u.selectedTask()
	if selected == nil {
		return nil
	}
	if u.query != "" {
		u.status = "clear the search to reorder"
		return nil
	}
	to := u.selected[u.focus] + delta
	if to < 0 || to >= len(u.tasks[u.focus]) {
		return nil
	}
	if u.engine.MoveTask(selected.ID, engine.TaskPatch{}, to, engine.QuadrantGroup(selected.Q)) {
		u.selected[u.focus] = to
	}
	return u.loadTasks()
}

func (u *UI) groupSize(q model.Quadrant) int {
	data, ok := u.engine.Snapshot()
	if !ok {
		return 0
	}
	count := 0
	for _, task := range data.Tasks {
		if task.Q == q {
			count++
		}
	}
	return count
}

func (u *UI) indexOf(pane, id string) int {
	for i, task := range u.tasks[pane] {
		if task.ID == id {
			return i
		}
	}
	return 0
}

func (u *UI) cycleTheme(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	order := []string{string(model.ThemeSystem), string(model.ThemeLight), string(model.ThemeDark)}
	next := model.Theme(cycleOption(order, string(u.theme), 1))
	if u.prefs != nil {
		if err := u.prefs.SetTheme(context.Background(), next); err != nil {
			u.status = err.Error()
			return nil
		}
	}
	u.theme = next
	return nil
}

func (u *UI) inputActive() bool {
	return u.searchActive || u.form != nil || u.helpActive
}

func (u *UI) quit(_ *gocui.Gui, _ *gocui.View) error {
	return gocui.ErrQuit
}

func helpText() string {
	return strings.Join([]string{
		"Navigation:",
		"  Tab cycle panes",
		"  1 Do | 2 Schedule | 3 Delegate | 4 Eliminate | 5 Inbox | 6 Links | 7 Sync log",
		"  j/k or arrows move selection",
		"  mouse click to focus/select, wheel to scroll",
		"",
		"Tasks:",
		"  a add (in the focused quadrant) | e edit | d delete | x toggle complete",
		"  [ ] move to previous/next quadrant | J/K move down/up",
		"  tab next field | space/left/right cycle color and quadrant | enter save",
		"",
		"Links (pane 6):",
		"  a add | d delete | J/K reorder",
		"",
		"Other:",
		"  / search | g clear search | r check server now | T cycle theme",
		"  ? help | esc/q close help | q quit",
	}, "\n")
}

func (u *UI) applyViewStyle(view *gocui.View, focused bool, highlight bool) {
	view.Frame = true
	view.Highlight = focused && highlight
	view.HighlightInactive = false
	view.SelBgColor = gocui.ColorBlue
	view.SelFgColor = gocui.ColorBlack
	if u.theme == model.ThemeLight {
		view.SelBgColor = gocui.ColorCyan
	}
	view.InactiveViewSelBgColor = gocui.ColorDefault
	if focused {
		view.FrameColor = gocui.ColorCyan
	} else {
		view.FrameColor = gocui.ColorDefault
	}
}

func clampIndex(i, n int) int {
	if n <= 0 || i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
