package protocol

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/listenupapp/bookstream/internal/domain"
)

// Field numbers of the binary schema:
//
//	message Book { string id=1; string title=2; string author=3; string description=4;
//	  int32 published_year=5; string created_at=6; string updated_at=7; }
//	message BookStreamRequest { Action action=1; string request_id=2; Book book=3;
//	  string book_id=4; string search_query=5; }
//	message BookStreamResponse { Action action=1; Status status=2; string message=3;
//	  string request_id=4; repeated Book books=5; Book book=6; int32 total_count=7;
//	  string timestamp=8; }
const (
	bookID            protowire.Number = 1
	bookTitle         protowire.Number = 2
	bookAuthor        protowire.Number = 3
	bookDescription   protowire.Number = 4
	bookPublishedYear protowire.Number = 5
	bookCreatedAt     protowire.Number = 6
	bookUpdatedAt     protowire.Number = 7

	reqAction      protowire.Number = 1
	reqRequestID   protowire.Number = 2
	reqBook        protowire.Number = 3
	reqBookID      protowire.Number = 4
	reqSearchQuery protowire.Number = 5

	respAction     protowire.Number = 1
	respStatus     protowire.Number = 2
	respMessage    protowire.Number = 3
	respRequestID  protowire.Number = 4
	respBooks      protowire.Number = 5
	respBook       protowire.Number = 6
	respTotalCount protowire.Number = 7
	respTimestamp  protowire.Number = 8
)

// ProtoCodec encodes envelopes in protobuf wire format as binary frames.
// Fields of a request's book are written only when present, so an update
// can distinguish "not provided" from "set to empty".
type ProtoCodec struct{}

// Name implements Codec.
func (ProtoCodec) Name() string { return SubprotocolProto }

// Binary implements Codec.
func (ProtoCodec) Binary() bool { return true }

// EncodeRequest implements Codec.
func (ProtoCodec) EncodeRequest(r Request) ([]byte, error) {
	var b []byte
	b = appendVarint(b, reqAction, uint64(r.Action))
	b = appendString(b, reqRequestID, r.RequestID)
	if r.Book != nil {
		b = appendMessage(b, reqBook, encodeBookInput(*r.Book))
	}
	b = appendString(b, reqBookID, r.BookID)
	b = appendString(b, reqSearchQuery, r.SearchQuery)
	return b, nil
}

// DecodeRequest implements Codec.
func (ProtoCodec) DecodeRequest(data []byte) (Request, error) {
	var r Request
	err := eachField(data, func(f field) error {
		switch f.num {
		case reqAction:
			r.Action = ActionFromNumber(int64(f.varint))
		case reqRequestID:
			r.RequestID = string(f.bytes)
		case reqBook:
			in, err := decodeBookInput(f.bytes)
			if err != nil {
				return err
			}
			r.Book = &in
		case reqBookID:
			r.BookID = string(f.bytes)
		case reqSearchQuery:
			r.SearchQuery = string(f.bytes)
		}
		return nil
	})
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return r, nil
}

// EncodeResponse implements Codec.
func (ProtoCodec) EncodeResponse(r Response) ([]byte, error) {
	var b []byte
	b = appendVarint(b, respAction, uint64(r.Action))
	b = appendVarint(b, respStatus, uint64(r.Status))
	b = appendString(b, respMessage, r.Message)
	b = appendString(b, respRequestID, r.RequestID)
	for _, book := range r.Books {
		b = appendMessage(b, respBooks, encodeBook(book))
	}
	if r.Book != nil {
		b = appendMessage(b, respBook, encodeBook(*r.Book))
	}
	if r.TotalCount != nil {
		b = protowire.AppendTag(b, respTotalCount, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(*r.TotalCount)))
	}
	b = appendTime(b, respTimestamp, r.Timestamp)
	return b, nil
}

// DecodeResponse implements Codec.
func (ProtoCodec) DecodeResponse(data []byte) (Response, error) {
	var r Response
	err := eachField(data, func(f field) error {
		switch f.num {
		case respAction:
			r.Action = ActionFromNumber(int64(f.varint))
		case respStatus:
			r.Status = StatusFromNumber(int64(f.varint))
		case respMessage:
			r.Message = string(f.bytes)
		case respRequestID:
			r.RequestID = string(f.bytes)
		case respBooks:
			book, err := decodeBook(f.bytes)
			if err != nil {
				return err
			}
			r.Books = append(r.Books, book)
		case respBook:
			book, err := decodeBook(f.bytes)
			if err != nil {
				return err
			}
			r.Book = &book
		case respTotalCount:
			c := int32(int64(f.varint))
			r.TotalCount = &c
		case respTimestamp:
			ts, err := parseTime(f.bytes)
			if err != nil {
				return err
			}
			r.Timestamp = ts
		}
		return nil
	})
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return r, nil
}

func encodeBook(book domain.Book) []byte {
	var b []byte
	b = appendString(b, bookID, book.ID)
	b = appendString(b, bookTitle, book.Title)
	b = appendString(b, bookAuthor, book.Author)
	b = appendString(b, bookDescription, book.Description)
	b = appendVarint(b, bookPublishedYear, uint64(int64(book.PublishedYear)))
	b = appendTime(b, bookCreatedAt, book.CreatedAt)
	b = appendTime(b, bookUpdatedAt, book.UpdatedAt)
	return b
}

func decodeBook(data []byte) (domain.Book, error) {
	var book domain.Book
	err := eachField(data, func(f field) error {
		var err error
		switch f.num {
		case bookID:
			book.ID = string(f.bytes)
		case bookTitle:
			book.Title = string(f.bytes)
		case bookAuthor:
			book.Author = string(f.bytes)
		case bookDescription:
			book.Description = string(f.bytes)
		case bookPublishedYear:
			book.PublishedYear = int32(int64(f.varint))
		case bookCreatedAt:
			book.CreatedAt, err = parseTime(f.bytes)
		case bookUpdatedAt:
			book.UpdatedAt, err = parseTime(f.bytes)
		}
		return err
	})
	return book, err
}

func encodeBookInput(in domain.BookInput) []byte {
	var b []byte
	if in.Title != nil {
		b = appendPresentString(b, bookTitle, *in.Title)
	}
	if in.Author != nil {
		b = appendPresentString(b, bookAuthor, *in.Author)
	}
	if in.Description != nil {
		b = appendPresentString(b, bookDescription, *in.Description)
	}
	if in.PublishedYear != nil {
		b = protowire.AppendTag(b, bookPublishedYear, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(*in.PublishedYear)))
	}
	return b
}

func decodeBookInput(data []byte) (domain.BookInput, error) {
	var in domain.BookInput
	err := eachField(data, func(f field) error {
		switch f.num {
		case bookTitle:
			s := string(f.bytes)
			in.Title = &s
		case bookAuthor:
			s := string(f.bytes)
			in.Author = &s
		case bookDescription:
			s := string(f.bytes)
			in.Description = &s
		case bookPublishedYear:
			y := int32(int64(f.varint))
			in.PublishedYear = &y
		}
		return nil
	})
	return in, err
}

type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

// eachField walks the top-level fields of a message. Unknown fields are
// passed to fn like any other and skipped there.
func eachField(b []byte, fn func(field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	return appendPresentString(b, num, s)
}

func appendPresentString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendTime(b []byte, num protowire.Number, t time.Time) []byte {
	if t.IsZero() {
		return b
	}
	return appendPresentString(b, num, t.UTC().Format(time.RFC3339Nano))
}

func parseTime(raw []byte) (time.Time, error) {
	if len(raw) == 0 {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, string(raw))
}
