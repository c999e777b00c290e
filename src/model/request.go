package model

import (
	"bufio"
	"errors"
	"fairq/src/server/fairqueue"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrMissingHeader  = errors.New("missing header")
	ErrHeaderTooLong  = errors.New("header line too long")
	ErrTooManyHeaders = errors.New("too many headers")
	ErrTooLarge       = errors.New("content too large")
)

type Request struct {
	ID    uuid.UUID
	Class string
	// Rate cost of the request, DEFAULT_REQUEST_WEIGHT if zero.
	Weight uint32
	// Number of bytes requested.
	Size uint32
}

type Response struct {
	ID    uuid.UUID
	Class string
	Data  []byte
}

// Ticket returns the capacity this request holds while being served.
func (r *Request) Ticket() fairqueue.Ticket {
	weight := r.Weight
	if weight == 0 {
		weight = DEFAULT_REQUEST_WEIGHT
	}
	return fairqueue.NewTicket(weight, r.Size)
}

// Write a Request.
func (r *Request) Write(writer io.Writer) (err error) {
	if err = checkHeaderValue(r.Class); err != nil {
		return
	}

	// Format mimics HTTP:
	// Headers - "Key: Value" separated by \n
	// Followed by empty line
	_, err = fmt.Fprintf(writer,
		"ID: %s\nClass: %s\nWeight: %d\nSize: %d\n\n",
		r.ID, r.Class, r.Weight, r.Size)
	return
}

// Read a Request.
func ReadRequest(reader *bufio.Reader) (req *Request, err error) {
	request := &Request{}

	err = readHeaders(reader, func(key, value string) (err error) {
		switch key {
		case "ID":
			request.ID, err = uuid.Parse(value)
		case "Class":
			request.Class = value
		case "Weight":
			request.Weight, err = parseUint32(value)
		case "Size":
			request.Size, err = parseUint32(value)
		}
		return
	})
	if err != nil {
		return
	}
	if request.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: ID", ErrMissingHeader)
	}
	if request.Class == "" {
		return nil, fmt.Errorf("%w: Class", ErrMissingHeader)
	}

	req = request
	return
}

// Write a Response.
func (r *Response) Write(writer *bufio.Writer) (err error) {
	if err = checkHeaderValue(r.Class); err != nil {
		return
	}

	// Format mimics HTTP:
	// Headers - "Key: Value" separated by \n
	// Followed by empty line
	// Followed by optional data
	_, err = fmt.Fprintf(writer,
		"ID: %s\nClass: %s\nContent-Length: %d\n\n",
		r.ID, r.Class, len(r.Data))
	if err != nil {
		return err
	}

	_, err = writer.Write(r.Data)
	if err != nil {
		return err
	}

	err = writer.Flush()
	return
}

// Read a Response.
func ReadResponse(reader *bufio.Reader) (res *Response, err error) {
	response := &Response{}

	contentLength := 0

	err = readHeaders(reader, func(key, value string) (err error) {
		switch key {
		case "ID":
			response.ID, err = uuid.Parse(value)
		case "Class":
			response.Class = value
		case "Content-Length":
			contentLength, err = strconv.Atoi(value)
			if err == nil && contentLength < 0 {
				err = fmt.Errorf("negative content length %d", contentLength)
			}
			if err == nil && contentLength > MAX_RESPONSE_SIZE {
				err = fmt.Errorf("%w: %d > %d", ErrTooLarge, contentLength, MAX_RESPONSE_SIZE)
			}
		}
		return
	})
	if err != nil {
		return
	}
	if response.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: ID", ErrMissingHeader)
	}

	response.Data = make([]byte, contentLength)
	if _, err = io.ReadFull(reader, response.Data); err != nil {
		return
	}

	res = response
	return
}

// readHeaders calls header for every "Key: Value" line up to the first empty
// line. Lines must fit in the buffer of reader.
func readHeaders(reader *bufio.Reader, header func(key, value string) error) error {
	for n := 0; ; n++ {
		raw, err := reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			return ErrHeaderTooLong
		}
		if err != nil {
			return err
		}

		line := string(raw[:len(raw)-1]) // Removes the \n
		if len(line) == 0 {
			return nil
		}
		if n == MAX_HEADER_COUNT {
			return ErrTooManyHeaders
		}

		kv := strings.SplitN(line, ":", 2)
		if len(kv) != 2 {
			return errors.New("not a key value pair")
		}

		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])
		if err := header(key, value); err != nil {
			return fmt.Errorf("invalid header %s: %w", key, err)
		}
	}
}

func parseUint32(value string) (uint32, error) {
	v, err := strconv.ParseUint(value, 10, 32)
	return uint32(v), err
}

func checkHeaderValue(value string) error {
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("header value %q contains a line break", value)
	}
	return nil
}
