// Package errors defines the error handling used throughout s5.
//
// An Error value is built from its arguments with E, which examines the
// type of each argument to decide what it means; see the doc comment on E
// for the details. The resulting *Error implements the standard error
// interface and renders a cascading message when one Error wraps another.
package errors

import (
	"bytes"
	"fmt"
)

// Error is the type that implements the error interface.
// It contains a number of fields, each of different type.
// An Error value may leave some values unset.
type Error struct {
	// Op is the operation being performed, usually the method or
	// function name (e.g. "blob.Engine.ImportBytes").
	Op string
	// Path is the object-store path or in-tree path of the item
	// being accessed, when relevant.
	Path string
	// Class is the class of error.
	Class Class
	// Err is the underlying error that triggered this one, if any.
	Err error
}

var _ error = (*Error)(nil)

// Class defines the kind of error this is, matching the taxonomy of
// spec §7.
type Class uint8

// The error classes used across s5.
const (
	Other             Class = iota // Unclassified error.
	Invalid                        // Invalid operation for this type of item.
	Permission                     // Permission denied.
	Syntax                        // Ill-formed argument.
	IO                             // External I/O error such as a store failure.
	Exist                          // Item exists but should not.
	NotFound                       // Item does not exist.
	SizeMismatch                  // Upload size does not match the expected size.
	HashMismatch                  // Computed hash does not match the expected hash.
	DecryptError                  // AEAD decryption failed.
	CborError                     // CBOR decode failed.
	SignatureRequired             // A signature was required but absent.
	InvalidSignature              // A signature was present but did not verify.
	StaleWrite                    // A registry write lost to should_store ordering.
	AclDenied                     // A blob RPC request was denied by ACL.
	Cancelled                     // The operation's context was cancelled.
)

func (c Class) String() string {
	switch c {
	case Invalid:
		return "invalid operation"
	case Permission:
		return "permission denied"
	case Syntax:
		return "syntax error"
	case IO:
		return "I/O error"
	case Exist:
		return "item already exists"
	case NotFound:
		return "item does not exist"
	case SizeMismatch:
		return "size mismatch"
	case HashMismatch:
		return "hash mismatch"
	case DecryptError:
		return "decryption failed"
	case CborError:
		return "cbor decode error"
	case SignatureRequired:
		return "signature required"
	case InvalidSignature:
		return "invalid signature"
	case StaleWrite:
		return "stale write"
	case AclDenied:
		return "access denied"
	case Cancelled:
		return "cancelled"
	case Other:
		return "other error"
	}
	return "unknown error class"
}

// E builds an error value from its arguments.
// The type of each argument determines its meaning.
// Only one argument of each type may be present (if there is more than
// one, the last one wins).
//
// The types are:
//
//	string
//		The operation being performed.
//	errors.Class
//		The class of error.
//	error
//		The underlying error that triggered this one.
//
// A string argument after the first is taken as the Path, so callers may
// write E(op, path, class, err) naturally.
//
// If the error is printed, only those items that have been set to
// non-zero values will appear in the result.
func E(args ...interface{}) error {
	if len(args) == 0 {
		return nil
	}
	e := &Error{}
	haveOp := false
	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			if !haveOp {
				e.Op = arg
				haveOp = true
			} else {
				e.Path = arg
			}
		case Class:
			e.Class = arg
		case error:
			e.Err = arg
		default:
			return fmt.Errorf("errors.E: bad call with argument of type %T: %v", arg, arg)
		}
	}
	return e
}

// Str returns an error that formats as the given text, for use as the
// innermost Err of an Error chain (analogous to errors.New).
func Str(text string) error {
	return &errorString{text}
}

type errorString struct{ s string }

func (e *errorString) Error() string { return e.s }

// Errorf is equivalent to Str(fmt.Sprintf(format, args...)).
func Errorf(format string, args ...interface{}) error {
	return &errorString{fmt.Sprintf(format, args...)}
}

// pad appends str to the buffer if the buffer already has some data.
func pad(b *bytes.Buffer, str string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(str)
}

func (e *Error) Error() string {
	b := new(bytes.Buffer)
	if e.Op != "" {
		b.WriteString(e.Op)
	}
	if e.Path != "" {
		pad(b, ": ")
		b.WriteString(e.Path)
	}
	if e.Class != 0 {
		pad(b, ": ")
		b.WriteString(e.Class.String())
	}
	if e.Err != nil {
		if _, ok := e.Err.(*Error); ok {
			pad(b, ":\n\t")
		} else {
			pad(b, ": ")
		}
		b.WriteString(e.Err.Error())
	}
	if b.Len() == 0 {
		return "no error"
	}
	return b.String()
}

// Unwrap enables errors.Is/errors.As from the standard library to see
// through an *Error to its cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether err is an *Error of class c, looking through any
// chain of wrapped *Error values.
func Is(c Class, err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	if e.Class != Other {
		return e.Class == c
	}
	if e.Err != nil {
		return Is(c, e.Err)
	}
	return false
}
