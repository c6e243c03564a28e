package changelog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/bobuk/gcalbridge/internal/fsutil"
)

const DefaultTable = "Table1"

// Options configures a Workbook.
type Options struct {
	// Table is the name of the Excel table holding the change log.
	Table string
	// Location is used for timestamps that carry no UTC offset.
	Location *time.Location
	Logger   *log.Logger
}

// Workbook is a change log stored as an .xlsx file.
type Workbook struct {
	path string
	opts Options
	mu   sync.Mutex

	stampMu sync.Mutex
	written fileStamp
}

// fileStamp identifies the file left behind by our own last write.
type fileStamp struct {
	modTime time.Time
	size    int64
}

// Batch is the result of one scan of the change log.
type Batch struct {
	// Records are the unprocessed rows in ascending timestamp order.
	Records []*Record
	// Invalid are unprocessed rows that could not be parsed.
	Invalid []*RowError
	// Total counts non-blank rows, Processed those already flagged.
	Total     int
	Processed int
}

// Summary describes the change log for the check command.
type Summary struct {
	Path      string
	Sheet     string
	Table     string
	Columns   []string
	Total     int
	Pending   int
	Processed int
	Invalid   []*RowError
}

// New returns a Workbook for the .xlsx file at path.
func New(path string, opts Options) *Workbook {
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[changelog] ", log.LstdFlags)
	}
	return &Workbook{path: path, opts: opts}
}

func (w *Workbook) Path() string {
	return w.path
}

// Pending returns the unprocessed rows. A missing table or column fails
// with a *SchemaError; a workbook held by another process fails with
// ErrResourceBusy. Nothing is written.
func (w *Workbook) Pending(ctx context.Context) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := w.read()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	t, err := openTable(file, w.opts.Table)
	if err != nil {
		return nil, err
	}
	batch, err := t.scan(w.opts.Location)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(batch.Records, func(i, j int) bool {
		return batch.Records[i].Timestamp.Before(batch.Records[j].Timestamp)
	})
	return batch, nil
}

// Check validates the schema and counts rows without writing anything.
func (w *Workbook) Check(ctx context.Context) (*Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := w.read()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	t, err := openTable(file, w.opts.Table)
	if err != nil {
		return nil, err
	}
	batch, err := t.scan(w.opts.Location)
	if err != nil {
		return nil, err
	}
	return &Summary{
		Path:      w.path,
		Sheet:     t.sheet,
		Table:     t.name,
		Columns:   t.headers,
		Total:     batch.Total,
		Pending:   len(batch.Records),
		Processed: batch.Processed,
		Invalid:   batch.Invalid,
	}, nil
}

// MarkProcessed sets IsProcessed to TRUE on the rows the records were read
// from and rewrites the workbook atomically. The file is re-read under an
// exclusive lock, so rows appended since Pending are kept. Records whose row
// can no longer be found are logged and skipped. It returns the number of
// rows marked.
func (w *Workbook) MarkProcessed(ctx context.Context, records []*Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkOwnerFile(); err != nil {
		return 0, err
	}
	f, err := openLocked(w.path, true)
	if err != nil {
		return 0, err
	}
	locked := true
	release := func() {
		if locked {
			_ = unlockFile(f)
			f.Close()
			locked = false
		}
	}
	defer release()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat change log: %w", err)
	}
	file, err := excelize.OpenReader(f)
	if err != nil {
		return 0, fmt.Errorf("failed to parse change log: %w", err)
	}
	defer file.Close()

	t, err := openTable(file, w.opts.Table)
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, rec := range records {
		row, err := t.locate(rec)
		if err != nil {
			return 0, err
		}
		if row == 0 {
			w.opts.Logger.Printf("Row for %s is gone from the change log, not marked", rec)
			continue
		}
		if err := t.markProcessed(row); err != nil {
			return 0, err
		}
		if row != rec.Row {
			w.opts.Logger.Printf("Row for %s moved to row %d", rec, row)
		}
		marked++
	}
	if marked == 0 {
		return 0, nil
	}

	buf, err := file.WriteToBuffer()
	if err != nil {
		return 0, fmt.Errorf("failed to encode change log: %w", err)
	}
	if !renameWhileLocked {
		release()
	}
	if err := fsutil.WriteFileAtomic(w.path, buf.Bytes(), info.Mode().Perm()); err != nil {
		return 0, fmt.Errorf("failed to write change log: %w", err)
	}
	w.recordWrite()
	return marked, nil
}

func (w *Workbook) recordWrite() {
	info, err := os.Stat(w.path)
	w.stampMu.Lock()
	defer w.stampMu.Unlock()
	if err != nil {
		w.written = fileStamp{}
		return
	}
	w.written = fileStamp{modTime: info.ModTime(), size: info.Size()}
}

// ChangedSinceWrite reports whether the file differs from the one
// MarkProcessed last wrote. It is true when nothing was written yet or the
// file cannot be stat'ed, so a watcher only skips its own writes.
func (w *Workbook) ChangedSinceWrite() bool {
	w.stampMu.Lock()
	written := w.written
	w.stampMu.Unlock()
	if written.modTime.IsZero() {
		return true
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return true
	}
	return !info.ModTime().Equal(written.modTime) || info.Size() != written.size
}

// read loads the workbook under a shared lock.
func (w *Workbook) read() (*excelize.File, error) {
	if err := w.checkOwnerFile(); err != nil {
		return nil, err
	}
	f, err := openLocked(w.path, false)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = unlockFile(f)
		f.Close()
	}()

	file, err := excelize.OpenReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse change log: %w", err)
	}
	return file, nil
}

// checkOwnerFile looks for the ~$ owner file Office creates next to a
// workbook it has open. Long names are truncated by two characters.
func (w *Workbook) checkOwnerFile() error {
	dir, base := filepath.Split(w.path)
	candidates := []string{"~$" + base}
	if len(base) > 2 {
		candidates = append(candidates, "~$"+base[2:])
	}
	for _, name := range candidates {
		_, err := os.Stat(filepath.Join(dir, name))
		if err == nil {
			return fmt.Errorf("%s is open in Office: %w", w.path, ErrResourceBusy)
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to check owner file: %w", err)
		}
	}
	return nil
}

func openLocked(path string, exclusive bool) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if isBusyError(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrResourceBusy)
		}
		return nil, fmt.Errorf("failed to open change log: %w", err)
	}
	if err := lockFile(f, exclusive); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// table is the change-log table located inside a workbook.
type table struct {
	file     *excelize.File
	sheet    string
	name     string
	headers  []string
	cols     map[string]int
	firstRow int
	lastRow  int
	date1904 bool
}

func openTable(file *excelize.File, name string) (*table, error) {
	for _, sheet := range file.GetSheetList() {
		tables, err := file.GetTables(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read tables of sheet %q: %w", sheet, err)
		}
		for _, tbl := range tables {
			if strings.EqualFold(tbl.Name, name) {
				return newTable(file, sheet, tbl)
			}
		}
	}
	return nil, &SchemaError{Table: name}
}

func newTable(file *excelize.File, sheet string, tbl excelize.Table) (*table, error) {
	bounds := strings.Split(tbl.Range, ":")
	if len(bounds) != 2 {
		return nil, fmt.Errorf("table %q has invalid range %q", tbl.Name, tbl.Range)
	}
	firstCol, firstRow, err := excelize.CellNameToCoordinates(bounds[0])
	if err != nil {
		return nil, fmt.Errorf("table %q has invalid range %q: %w", tbl.Name, tbl.Range, err)
	}
	lastCol, lastRow, err := excelize.CellNameToCoordinates(bounds[1])
	if err != nil {
		return nil, fmt.Errorf("table %q has invalid range %q: %w", tbl.Name, tbl.Range, err)
	}

	t := &table{
		file:     file,
		sheet:    sheet,
		name:     tbl.Name,
		cols:     make(map[string]int),
		firstRow: firstRow,
		lastRow:  lastRow,
	}
	if props, err := file.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		t.date1904 = *props.Date1904
	}

	for col := firstCol; col <= lastCol; col++ {
		header, err := t.cellAt(col, firstRow)
		if err != nil {
			return nil, err
		}
		header = strings.TrimSpace(header)
		if header == "" {
			continue
		}
		t.headers = append(t.headers, header)
		if canonical, ok := canonicalColumn(header); ok {
			if _, dup := t.cols[canonical]; !dup {
				t.cols[canonical] = col
			}
		}
	}

	var missing []string
	for _, c := range requiredColumns {
		if _, ok := t.cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Table: tbl.Name, Missing: missing, Found: t.headers}
	}
	return t, nil
}

func (t *table) cellAt(col, row int) (string, error) {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return "", err
	}
	v, err := t.file.GetCellValue(t.sheet, name, excelize.Options{RawCellValue: true})
	if err != nil {
		return "", fmt.Errorf("failed to read cell %s: %w", name, err)
	}
	return v, nil
}

func (t *table) cell(row int, column string) (string, error) {
	return t.cellAt(t.cols[column], row)
}

// values reads every required column of a row.
func (t *table) values(row int) (map[string]string, error) {
	vals := make(map[string]string, len(requiredColumns))
	for _, c := range requiredColumns {
		v, err := t.cell(row, c)
		if err != nil {
			return nil, err
		}
		vals[c] = strings.TrimSpace(v)
	}
	return vals, nil
}

func (t *table) scan(loc *time.Location) (*Batch, error) {
	batch := &Batch{}
	for row := t.firstRow + 1; row <= t.lastRow; row++ {
		vals, err := t.values(row)
		if err != nil {
			return nil, err
		}
		if blankRow(vals) {
			continue
		}
		batch.Total++

		processed, blank, err := parseFlag(vals[colIsProcessed])
		if err == nil && blank {
			err = fmt.Errorf("%s is empty", colIsProcessed)
		}
		if err != nil {
			batch.Invalid = append(batch.Invalid, &RowError{Row: row, ExternalID: vals[colExternalID], Err: err})
			continue
		}
		if processed {
			batch.Processed++
			continue
		}

		rec, err := t.parseRecord(row, vals, loc)
		if err != nil {
			batch.Invalid = append(batch.Invalid, &RowError{Row: row, ExternalID: vals[colExternalID], Err: err})
			continue
		}
		batch.Records = append(batch.Records, rec)
	}
	return batch, nil
}

func (t *table) parseRecord(row int, vals map[string]string, loc *time.Location) (*Record, error) {
	rec := &Record{
		ExternalID: vals[colExternalID],
		Subject:    vals[colSubject],
		Body:       vals[colBody],
		Location:   vals[colLocation],
		Row:        row,
		key: rowKey{
			externalID: vals[colExternalID],
			action:     vals[colActionType],
			timestamp:  vals[colTimestamp],
		},
	}
	if rec.ExternalID == "" {
		return nil, fmt.Errorf("%s is empty", colExternalID)
	}

	var err error
	if rec.Action, err = ParseAction(vals[colActionType]); err != nil {
		return nil, err
	}
	if rec.Timestamp, err = parseTime(vals[colTimestamp], loc, t.date1904); err != nil {
		return nil, fmt.Errorf("%s: %w", colTimestamp, err)
	}
	if rec.AllDay, _, err = parseFlag(vals[colIsAllDay]); err != nil {
		return nil, fmt.Errorf("%s: %w", colIsAllDay, err)
	}

	if rec.Action == ActionDeleted {
		// Deletions only need the id; times are kept when readable.
		rec.Start, _ = parseTime(vals[colStartTime], loc, t.date1904)
		rec.End, _ = parseTime(vals[colEndTime], loc, t.date1904)
		return rec, nil
	}
	if rec.Start, err = parseTime(vals[colStartTime], loc, t.date1904); err != nil {
		return nil, fmt.Errorf("%s: %w", colStartTime, err)
	}
	if rec.End, err = parseTime(vals[colEndTime], loc, t.date1904); err != nil {
		return nil, fmt.Errorf("%s: %w", colEndTime, err)
	}
	if rec.End.Before(rec.Start) {
		return nil, fmt.Errorf("%s is before %s", colEndTime, colStartTime)
	}
	return rec, nil
}

func blankRow(vals map[string]string) bool {
	for _, v := range vals {
		if v != "" {
			return false
		}
	}
	return true
}

// locate finds the row a record was read from, falling back to a search of
// the table when rows were inserted or removed since. It returns 0 when no
// unprocessed row matches.
func (t *table) locate(rec *Record) (int, error) {
	if rec.Row > t.firstRow && rec.Row <= t.lastRow {
		ok, err := t.matches(rec.Row, rec.key)
		if err != nil || ok {
			return rec.Row, err
		}
	}
	for row := t.firstRow + 1; row <= t.lastRow; row++ {
		if row == rec.Row {
			continue
		}
		ok, err := t.matches(row, rec.key)
		if err != nil {
			return 0, err
		}
		if ok {
			return row, nil
		}
	}
	return 0, nil
}

func (t *table) matches(row int, key rowKey) (bool, error) {
	vals, err := t.values(row)
	if err != nil {
		return false, err
	}
	if vals[colExternalID] != key.externalID || vals[colActionType] != key.action || vals[colTimestamp] != key.timestamp {
		return false, nil
	}
	processed, _, err := parseFlag(vals[colIsProcessed])
	return err == nil && !processed, nil
}

func (t *table) markProcessed(row int) error {
	name, err := excelize.CoordinatesToCellName(t.cols[colIsProcessed], row)
	if err != nil {
		return err
	}
	raw, err := t.cell(row, colIsProcessed)
	if err != nil {
		return err
	}
	// Keep boolean cells boolean so the exporter's formulas still match.
	if strings.TrimSpace(raw) == "0" {
		err = t.file.SetCellBool(t.sheet, name, true)
	} else {
		err = t.file.SetCellStr(t.sheet, name, "TRUE")
	}
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", name, err)
	}
	return nil
}
