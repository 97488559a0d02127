// Package transfer ships one exam bundle per TCP connection from the proctor
// station to a student workstation.
//
// Frame layout (big endian):
//
//	magic   [4]byte  "EXBN"
//	version uint16
//	length  uint32   body size in bytes
//	body    msgpack-encoded wireBundle
package transfer

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/stemsi/exstem-lockdown/internal/model"
	"github.com/stemsi/exstem-lockdown/internal/validator"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	Version        uint16 = 1
	headerSize            = 10
	DefaultMaxBody int64  = 8 << 20
)

var magic = [4]byte{'E', 'X', 'B', 'N'}

var (
	ErrBadMagic           = errors.New("transfer: not an exam bundle")
	ErrUnsupportedVersion = errors.New("transfer: unsupported bundle version")
	ErrPayloadTooLarge    = errors.New("transfer: bundle exceeds size limit")
	ErrMalformedBundle    = errors.New("transfer: malformed bundle")
)

// ─── Wire schema ────────────────────────────────────────────────────

// wireTime is an instant with its zone offset. A nil *wireTime means unset,
// so the Unix epoch is still a valid time.
type wireTime struct {
	Sec    int64  `msgpack:"sec"`
	Nsec   int32  `msgpack:"nsec" validate:"gte=0,lt=1000000000"`
	Offset int32  `msgpack:"offset" validate:"gte=-64800,lte=64800"` // seconds east of UTC
	Zone   string `msgpack:"zone,omitempty"`
}

type wireExam struct {
	ID                int64     `msgpack:"id" validate:"gt=0"`
	Title             string    `msgpack:"title" validate:"required"`
	Description       string    `msgpack:"description"`
	StartTime         *wireTime `msgpack:"start_time,omitempty"`
	EndTime           *wireTime `msgpack:"end_time,omitempty"`
	DurationMinutes   int       `msgpack:"duration_minutes" validate:"gte=1"`
	EntryPasswordHash string    `msgpack:"entry_password_hash"`
	ExitPasswordHash  string    `msgpack:"exit_password_hash"`
}

type wireQuestion struct {
	ID            int64     `msgpack:"id" validate:"gt=0"`
	ExamID        int64     `msgpack:"exam_id" validate:"gt=0"`
	QuestionText  string    `msgpack:"question_text" validate:"required"`
	Options       [4]string `msgpack:"options"`
	CorrectOption string    `msgpack:"correct_option" validate:"oneof=A B C D"`
}

type wireBundle struct {
	Exam      wireExam       `msgpack:"exam" validate:"required"`
	Questions []wireQuestion `msgpack:"questions" validate:"dive"`
}

func toWire(b *model.TransferBundle) wireBundle {
	w := wireBundle{
		Exam: wireExam{
			ID:                b.Exam.ID,
			Title:             b.Exam.Title,
			Description:       b.Exam.Description,
			StartTime:         toWireTime(b.Exam.StartTime),
			EndTime:           toWireTime(b.Exam.EndTime),
			DurationMinutes:   b.Exam.DurationMinutes,
			EntryPasswordHash: b.Exam.EntryPasswordHash,
			ExitPasswordHash:  b.Exam.ExitPasswordHash,
		},
		Questions: make([]wireQuestion, 0, len(b.Questions)),
	}
	for _, q := range b.Questions {
		w.Questions = append(w.Questions, wireQuestion{
			ID:            q.ID,
			ExamID:        q.ExamID,
			QuestionText:  q.QuestionText,
			Options:       q.Options,
			CorrectOption: string(q.CorrectOption),
		})
	}
	return w
}

func (w *wireBundle) toModel() *model.TransferBundle {
	b := &model.TransferBundle{
		Exam: model.Exam{
			ID:                w.Exam.ID,
			Title:             w.Exam.Title,
			Description:       w.Exam.Description,
			StartTime:         w.Exam.StartTime.toTime(),
			EndTime:           w.Exam.EndTime.toTime(),
			DurationMinutes:   w.Exam.DurationMinutes,
			EntryPasswordHash: w.Exam.EntryPasswordHash,
			ExitPasswordHash:  w.Exam.ExitPasswordHash,
		},
		Questions: make([]model.Question, 0, len(w.Questions)),
	}
	for _, q := range w.Questions {
		b.Questions = append(b.Questions, model.Question{
			ID:            q.ID,
			ExamID:        q.ExamID,
			QuestionText:  q.QuestionText,
			Options:       q.Options,
			CorrectOption: model.OptionLetter(q.CorrectOption),
		})
	}
	return b
}

// check runs the struct rules plus the cross-field ones the tags cannot express.
func (w *wireBundle) check() error {
	if err := validator.Struct(w); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBundle, validator.TranslateErrors(err))
	}
	seen := make(map[int64]struct{}, len(w.Questions))
	for i, q := range w.Questions {
		if q.ExamID != w.Exam.ID {
			return fmt.Errorf("%w: question %d belongs to exam %d, bundle is exam %d",
				ErrMalformedBundle, i, q.ExamID, w.Exam.ID)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: duplicate question id %d", ErrMalformedBundle, q.ID)
		}
		seen[q.ID] = struct{}{}
	}
	return nil
}

// ─── Encode / Decode ────────────────────────────────────────────────

// Encode writes one framed bundle to w.
func Encode(w io.Writer, b *model.TransferBundle) error {
	if b == nil {
		return fmt.Errorf("%w: nil bundle", ErrMalformedBundle)
	}
	wb := toWire(b)
	if err := wb.check(); err != nil {
		return err
	}

	body, err := msgpack.Marshal(&wb)
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}

	var hdr [headerSize]byte
	copy(hdr[:4], magic[:])
	binary.BigEndian.PutUint16(hdr[4:6], Version)
	binary.BigEndian.PutUint32(hdr[6:10], uint32(len(body)))

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(hdr[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := bw.Write(body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush bundle: %w", err)
	}
	return nil
}

// Decode reads exactly one framed bundle from r. maxBody <= 0 means
// DefaultMaxBody. Either a complete, valid bundle is returned or an error.
func Decode(r io.Reader, maxBody int64) (*model.TransferBundle, error) {
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}

	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrMalformedBundle, err)
	}
	if !bytes.Equal(hdr[:4], magic[:]) {
		return nil, ErrBadMagic
	}
	if v := binary.BigEndian.Uint16(hdr[4:6]); v != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	n := int64(binary.BigEndian.Uint32(hdr[6:10]))
	if n > maxBody {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, n, maxBody)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrMalformedBundle, err)
	}

	var wb wireBundle
	if err := msgpack.Unmarshal(body, &wb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBundle, err)
	}
	if err := wb.check(); err != nil {
		return nil, err
	}
	return wb.toModel(), nil
}

func toWireTime(t *time.Time) *wireTime {
	if t == nil {
		return nil
	}
	zone, offset := t.Zone()
	return &wireTime{
		Sec:    t.Unix(),
		Nsec:   int32(t.Nanosecond()),
		Offset: int32(offset),
		Zone:   zone,
	}
}

// toTime restores the instant. UTC comes back as time.UTC; any other zone
// comes back as a fixed zone with the sender's name and offset.
func (w *wireTime) toTime() *time.Time {
	if w == nil {
		return nil
	}
	t := time.Unix(w.Sec, int64(w.Nsec))
	if w.Offset == 0 && (w.Zone == "" || w.Zone == "UTC") {
		t = t.UTC()
	} else {
		t = t.In(time.FixedZone(w.Zone, int(w.Offset)))
	}
	return &t
}
