package tableview

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"resume-backend/internal/apiclient"
	"resume-backend/internal/document"
	"resume-backend/internal/metadata"
)

// Control is the input widget used to edit a column.
type Control string

const (
	ControlNone      Control = ""
	ControlText      Control = "text"
	ControlEmail     Control = "email"
	ControlPhone     Control = "tel"
	ControlNumber    Control = "number"
	ControlDate      Control = "date"
	ControlSelect    Control = "select"
	ControlCheckbox  Control = "checkbox"
	ControlTextarea  Control = "textarea"
	ControlTags      Control = "tags"
	ControlLineItems Control = "lineItems"
	ControlContacts  Control = "contacts"
	ControlColor     Control = "color"
	ControlSecret    Control = "password"
)

var (
	ErrSubmitting    = errors.New("form is submitting")
	ErrRecordMissing = errors.New("record no longer exists")
)

type controlVisitor struct{}

func (controlVisitor) Text(*metadata.Column) Control     { return ControlText }
func (controlVisitor) Email(*metadata.Column) Control    { return ControlEmail }
func (controlVisitor) Phone(*metadata.Column) Control    { return ControlPhone }
func (controlVisitor) Number(*metadata.Column) Control   { return ControlNumber }
func (controlVisitor) Date(*metadata.Column) Control     { return ControlDate }
func (controlVisitor) Select(*metadata.Column) Control   { return ControlSelect }
func (controlVisitor) Boolean(*metadata.Column) Control  { return ControlCheckbox }
func (controlVisitor) Address(*metadata.Column) Control  { return ControlTextarea }
func (controlVisitor) Textarea(*metadata.Column) Control { return ControlTextarea }
func (controlVisitor) Color(*metadata.Column) Control    { return ControlColor }
func (controlVisitor) Hidden(*metadata.Column) Control   { return ControlNone }

func (controlVisitor) Array(c *metadata.Column) Control {
	switch c.ArrayType {
	case metadata.ArrayOfLineItems:
		return ControlLineItems
	case metadata.ArrayOfContacts:
		return ControlContacts
	default:
		return ControlTags
	}
}

// ControlFor returns the editor control for c.
func ControlFor(c *metadata.Column) Control {
	return metadata.VisitColumn[Control](c, controlVisitor{})
}

// Field is one input of a form. Repeated controls keep their sub-forms in
// Items; every other control keeps its value in Value.
type Field struct {
	Column   *metadata.Column
	Control  Control
	Required bool
	Value    any
	Items    []map[string]any
}

func (f *Field) empty() bool {
	switch f.Control {
	case ControlLineItems, ControlContacts:
		return len(f.Items) == 0
	}
	switch v := f.Value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []string:
		return len(v) == 0
	}
	return false
}

// set parses raw according to the field's control. Secrets are kept as
// typed.
func (f *Field) set(raw string) error {
	if f.Control != ControlSecret {
		raw = strings.TrimSpace(raw)
	}
	switch f.Control {
	case ControlNone:
		return fmt.Errorf("%s is not editable", f.Column.ID)
	case ControlLineItems, ControlContacts:
		return fmt.Errorf("%s holds repeated items; edit them individually", f.Column.ID)
	}
	if raw == "" {
		f.Value = nil
		return nil
	}
	switch f.Control {
	case ControlNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%s must be a number", f.Column.Header)
		}
		f.Value = n
	case ControlCheckbox:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%s must be true or false", f.Column.Header)
		}
		f.Value = b
	case ControlDate:
		t, ok := parseDate(raw)
		if !ok {
			return fmt.Errorf("%s must be a date (yyyy-mm-dd)", f.Column.Header)
		}
		f.Value = t.UTC().Format(time.RFC3339)
	case ControlSelect:
		if len(f.Column.Options) > 0 && !f.Column.HasOption(raw) {
			return fmt.Errorf("%s must be one of the listed options", f.Column.Header)
		}
		f.Value = raw
	case ControlTags:
		var tags []string
		for _, part := range strings.Split(raw, ",") {
			if p := strings.TrimSpace(part); p != "" {
				tags = append(tags, p)
			}
		}
		f.Value = tags
	default:
		f.Value = raw
	}
	return nil
}

func (f *Field) value() any {
	switch f.Control {
	case ControlLineItems, ControlContacts:
		items := make([]any, len(f.Items))
		for i, it := range f.Items {
			items[i] = it
		}
		return items
	}
	return f.Value
}

func newField(cfg *metadata.TableConfig, c *metadata.Column, record map[string]any) *Field {
	f := &Field{Column: c, Control: controlIn(cfg, c), Required: required(cfg, c)}
	if record == nil {
		return f
	}
	if f.Control == ControlSecret {
		// Reads return the redaction marker; an empty secret keeps the
		// stored one.
		f.Required = false
		return f
	}
	v, ok := c.Path.Get(record)
	if !ok {
		return f
	}
	switch f.Control {
	case ControlLineItems, ControlContacts:
		if list, ok := v.([]any); ok {
			for _, item := range list {
				if m, ok := item.(map[string]any); ok {
					f.Items = append(f.Items, cloneMap(m))
				}
			}
		}
	case ControlTags:
		if list, ok := v.([]any); ok {
			tags := make([]string, 0, len(list))
			for _, item := range list {
				tags = append(tags, fmt.Sprint(item))
			}
			f.Value = tags
		} else {
			f.Value = v
		}
	default:
		f.Value = v
	}
	return f
}

func required(cfg *metadata.TableConfig, c *metadata.Column) bool {
	for _, r := range cfg.Required {
		if r == c.AccessorKey || r == c.ID {
			return true
		}
	}
	return false
}

func bulkEditable(cfg *metadata.TableConfig, c *metadata.Column) bool {
	for _, name := range cfg.Features.BulkEdit.Columns {
		if name == c.ID || name == c.AccessorKey {
			return true
		}
	}
	return false
}

// writeOnly reports whether a hidden column still takes input: the server
// requires it or the table bulk-edits it.
func writeOnly(cfg *metadata.TableConfig, c *metadata.Column) bool {
	return c.Type == metadata.ColumnHidden && (required(cfg, c) || bulkEditable(cfg, c))
}

// controlIn is ControlFor with write-only hidden columns mapped to a
// secret input, or to a select for references such as a user's role.
func controlIn(cfg *metadata.TableConfig, c *metadata.Column) Control {
	if !writeOnly(cfg, c) {
		return ControlFor(c)
	}
	if document.IsSecretKey(c.AccessorKey) {
		return ControlSecret
	}
	return ControlSelect
}

func editable(cfg *metadata.TableConfig, c *metadata.Column) bool {
	switch c.AccessorKey {
	case metadata.FieldID, metadata.FieldCreatedAt, metadata.FieldUpdatedAt:
		return false
	case "roleName":
		return cfg.Kind != metadata.KindUsers
	}
	return c.Type != metadata.ColumnHidden || writeOnly(cfg, c)
}

// Mutator persists form submissions.
type Mutator interface {
	Create(ctx context.Context, slug string, body map[string]any) (map[string]any, error)
	Update(ctx context.Context, slug, id string, body map[string]any) (map[string]any, bool, error)
	BulkUpdate(ctx context.Context, slug string, ids []string, updates map[string]any) ([]string, error)
}

// Notification is a dismissible message raised by a failed submit.
type Notification struct {
	Message string
	Details []apiclient.ErrorDetail
}

func notificationFor(err error) *Notification {
	var apiErr *apiclient.Error
	if errors.As(err, &apiErr) {
		return &Notification{Message: apiErr.Message, Details: apiErr.Details}
	}
	return &Notification{Message: err.Error()}
}

type formState struct {
	submitting atomic.Bool
	notice     atomic.Pointer[Notification]
}

// Submitting reports whether a submit is in flight; the form rejects
// edits until it returns.
func (s *formState) Submitting() bool { return s.submitting.Load() }

// Notification returns the pending failure message, or nil.
func (s *formState) Notification() *Notification { return s.notice.Load() }

func (s *formState) Dismiss() { s.notice.Store(nil) }

// Form edits one record, or a new one when the id is empty.
type Form struct {
	formState
	table  *metadata.TableConfig
	id     string
	fields []*Field
}

// NewForm builds a form over record. A nil record starts a create form.
func NewForm(cfg *metadata.TableConfig, record map[string]any) *Form {
	f := &Form{table: cfg}
	if record != nil {
		f.id, _ = record[metadata.FieldID].(string)
	}
	for i := range cfg.Columns {
		c := &cfg.Columns[i]
		if editable(cfg, c) {
			f.fields = append(f.fields, newField(cfg, c, record))
		}
	}
	return f
}

// ID is the edited record id, empty for a create form.
func (f *Form) ID() string { return f.id }

func (f *Form) Fields() []*Field { return f.fields }

// Field returns the field for a column id or accessor, or nil.
func (f *Form) Field(name string) *Field {
	for _, fld := range f.fields {
		if fld.Column.ID == name || fld.Column.AccessorKey == name {
			return fld
		}
	}
	return nil
}

func (f *Form) field(name string) (*Field, error) {
	if f.Submitting() {
		return nil, ErrSubmitting
	}
	fld := f.Field(name)
	if fld == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, name)
	}
	return fld, nil
}

// Set parses raw into the named field. An empty string clears it.
func (f *Form) Set(name, raw string) error {
	fld, err := f.field(name)
	if err != nil {
		return err
	}
	return fld.set(raw)
}

// AddItem appends an empty sub-form to a repeated field and returns its
// index.
func (f *Form) AddItem(name string) (int, error) {
	fld, err := f.field(name)
	if err != nil {
		return 0, err
	}
	switch fld.Control {
	case ControlLineItems:
		fld.Items = append(fld.Items, map[string]any{"description": "", "quantity": float64(1), "price": float64(0)})
	case ControlContacts:
		fld.Items = append(fld.Items, map[string]any{"name": "", "email": ""})
	default:
		return 0, fmt.Errorf("%s does not hold repeated items", fld.Column.ID)
	}
	return len(fld.Items) - 1, nil
}

func (f *Form) RemoveItem(name string, index int) error {
	fld, err := f.field(name)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(fld.Items) {
		return fmt.Errorf("%s has no item %d", fld.Column.ID, index)
	}
	fld.Items = append(fld.Items[:index], fld.Items[index+1:]...)
	return nil
}

// SetItem sets key of the sub-form at index. Quantities and prices are
// parsed as numbers.
func (f *Form) SetItem(name string, index int, key, raw string) error {
	fld, err := f.field(name)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(fld.Items) {
		return fmt.Errorf("%s has no item %d", fld.Column.ID, index)
	}
	raw = strings.TrimSpace(raw)
	switch key {
	case "quantity", "price":
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%s %s must be a number", fld.Column.Header, key)
		}
		fld.Items[index][key] = n
	default:
		fld.Items[index][key] = raw
	}
	return nil
}

// Missing lists the headers of required fields without a value.
func (f *Form) Missing() []string {
	var missing []string
	for _, fld := range f.fields {
		if fld.Required && fld.empty() {
			missing = append(missing, fld.Column.Header)
		}
	}
	return missing
}

// Body builds the nested request document from the set field values.
func (f *Form) Body() map[string]any {
	body := make(map[string]any)
	for _, fld := range f.fields {
		v := fld.value()
		if v == nil {
			continue
		}
		fld.Column.Path.Set(body, v)
	}
	return body
}

// Submit creates or updates the record. On success the server's record is
// merged into view when view is non-nil; on failure the values stay and a
// notification is raised.
func (f *Form) Submit(ctx context.Context, m Mutator, view *Table) (map[string]any, error) {
	if !f.submitting.CompareAndSwap(false, true) {
		return nil, ErrSubmitting
	}
	defer f.submitting.Store(false)
	f.Dismiss()

	if missing := f.Missing(); len(missing) > 0 {
		err := fmt.Errorf("required: %s", strings.Join(missing, ", "))
		f.notice.Store(&Notification{Message: err.Error()})
		return nil, err
	}

	var (
		rec   map[string]any
		found = true
		err   error
	)
	if f.id == "" {
		rec, err = m.Create(ctx, f.table.Slug, f.Body())
	} else {
		rec, found, err = m.Update(ctx, f.table.Slug, f.id, f.Body())
	}
	if err != nil {
		f.notice.Store(notificationFor(err))
		return nil, err
	}
	if !found {
		f.notice.Store(&Notification{Message: fmt.Sprintf("%s record %s no longer exists", f.table.Title, f.id)})
		if view != nil {
			view.RemoveRows([]string{f.id})
		}
		return nil, ErrRecordMissing
	}
	if id, _ := rec[metadata.FieldID].(string); id != "" {
		f.id = id
	}
	if view != nil {
		view.ApplyRecord(rec)
	}
	return rec, nil
}

// BulkForm sets the same values on every selected record. Only the
// table's bulk-edit columns are offered.
type BulkForm struct {
	formState
	table  *metadata.TableConfig
	ids    []string
	fields []*Field
}

func NewBulkForm(cfg *metadata.TableConfig, ids []string) (*BulkForm, error) {
	if !cfg.Features.BulkEdit.Enabled {
		return nil, fmt.Errorf("bulk edit: %w", ErrFeatureDisabled)
	}
	if len(ids) == 0 {
		return nil, errors.New("bulk edit needs at least one selected row")
	}
	b := &BulkForm{table: cfg, ids: append([]string(nil), ids...)}
	for _, name := range cfg.Features.BulkEdit.Columns {
		if c := cfg.Column(name); c != nil && editable(cfg, c) {
			b.fields = append(b.fields, newField(cfg, c, nil))
		}
	}
	return b, nil
}

func (b *BulkForm) Fields() []*Field { return b.fields }

func (b *BulkForm) Set(name, raw string) error {
	if b.Submitting() {
		return ErrSubmitting
	}
	for _, fld := range b.fields {
		if fld.Column.ID == name || fld.Column.AccessorKey == name {
			return fld.set(raw)
		}
	}
	return fmt.Errorf("%w: %s is not bulk editable", ErrUnknownColumn, name)
}

// Updates returns the set fields keyed by accessor.
func (b *BulkForm) Updates() map[string]any {
	updates := make(map[string]any)
	for _, fld := range b.fields {
		if !fld.empty() {
			updates[fld.Column.AccessorKey] = fld.value()
		}
	}
	return updates
}

// Submit posts {ids, updates} and refreshes view when non-nil.
func (b *BulkForm) Submit(ctx context.Context, m Mutator, view *Table) ([]string, error) {
	if !b.submitting.CompareAndSwap(false, true) {
		return nil, ErrSubmitting
	}
	defer b.submitting.Store(false)
	b.Dismiss()

	updates := b.Updates()
	if len(updates) == 0 {
		err := errors.New("no fields to update")
		b.notice.Store(&Notification{Message: err.Error()})
		return nil, err
	}
	updated, err := m.BulkUpdate(ctx, b.table.Slug, b.ids, updates)
	if err != nil {
		b.notice.Store(notificationFor(err))
		return nil, err
	}
	if view != nil {
		if _, err := view.Refresh(ctx); err != nil {
			return updated, err
		}
	}
	return updated, nil
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
