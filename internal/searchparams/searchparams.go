// Package searchparams encodes flight searches into the opaque blob stored behind a
// short link and turns a stored blob back into a booking-site search URL.
package searchparams

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	TripOneWay = "oneway"
	TripReturn = "return"

	dateLayout = "2006-01-02"

	// MaxEncodedLength bounds the blob accepted by Decode.
	MaxEncodedLength = 4096
)

var validCabins = map[string]bool{
	"economy":         true,
	"premium_economy": true,
	"business":        true,
	"first":           true,
}

// FlightSearch mirrors the search form of the booking web app.
type FlightSearch struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	DepartDate string  `json:"departDate"`
	ReturnDate string  `json:"returnDate,omitempty"`
	TripType   string  `json:"tripType"`
	Airline    string  `json:"airline,omitempty"`
	Price      float64 `json:"price,omitempty"`
	Adults     int     `json:"adults"`
	Children   int     `json:"children,omitempty"`
	Infants    int     `json:"infants,omitempty"`
	Cabin      string  `json:"cabin,omitempty"`
}

// Normalize trims whitespace and canonicalizes case so equal searches encode to
// equal blobs.
func (s FlightSearch) Normalize() FlightSearch {
	s.From = strings.ToUpper(strings.TrimSpace(s.From))
	s.To = strings.ToUpper(strings.TrimSpace(s.To))
	s.DepartDate = strings.TrimSpace(s.DepartDate)
	s.ReturnDate = strings.TrimSpace(s.ReturnDate)
	s.TripType = strings.ToLower(strings.TrimSpace(s.TripType))
	s.Airline = strings.ToUpper(strings.TrimSpace(s.Airline))
	s.Cabin = strings.ToLower(strings.TrimSpace(s.Cabin))
	if s.TripType == TripOneWay {
		s.ReturnDate = ""
	}
	return s
}

// Validate reports the first problem with s. Call Normalize first.
func (s FlightSearch) Validate() error {
	if !isIATA(s.From) {
		return fmt.Errorf("from must be a 3-letter airport code, got %q", s.From)
	}
	if !isIATA(s.To) {
		return fmt.Errorf("to must be a 3-letter airport code, got %q", s.To)
	}
	if s.From == s.To {
		return errors.New("from and to must differ")
	}

	depart, err := time.Parse(dateLayout, s.DepartDate)
	if err != nil {
		return fmt.Errorf("departDate must be YYYY-MM-DD, got %q", s.DepartDate)
	}

	switch s.TripType {
	case TripOneWay:
	case TripReturn:
		ret, err := time.Parse(dateLayout, s.ReturnDate)
		if err != nil {
			return fmt.Errorf("returnDate must be YYYY-MM-DD for return trips, got %q", s.ReturnDate)
		}
		if ret.Before(depart) {
			return errors.New("returnDate cannot be before departDate")
		}
	default:
		return fmt.Errorf("tripType must be %q or %q, got %q", TripOneWay, TripReturn, s.TripType)
	}

	if s.Airline != "" && (len(s.Airline) < 2 || len(s.Airline) > 3) {
		return fmt.Errorf("airline must be a 2 or 3 character carrier code, got %q", s.Airline)
	}
	if s.Price < 0 {
		return errors.New("price cannot be negative")
	}
	if s.Adults < 1 {
		return errors.New("at least one adult is required")
	}
	if s.Children < 0 || s.Infants < 0 {
		return errors.New("passenger counts cannot be negative")
	}
	if s.Infants > s.Adults {
		return errors.New("infants cannot outnumber adults")
	}
	if s.Cabin != "" && !validCabins[s.Cabin] {
		return fmt.Errorf("unknown cabin %q", s.Cabin)
	}
	return nil
}

// Encode returns standard base64 of the compact JSON form of s.
func Encode(s FlightSearch) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// Decode accepts standard or URL-safe base64, padded or not.
func Decode(encoded string) (FlightSearch, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return FlightSearch{}, errors.New("encoded params cannot be empty")
	}
	if len(encoded) > MaxEncodedLength {
		return FlightSearch{}, errors.New("encoded params too long")
	}

	raw, err := decodeBase64(encoded)
	if err != nil {
		return FlightSearch{}, err
	}

	var s FlightSearch
	if err := json.Unmarshal(raw, &s); err != nil {
		return FlightSearch{}, fmt.Errorf("encoded params are not a search: %w", err)
	}
	return s, nil
}

func decodeBase64(s string) ([]byte, error) {
	enc := base64.StdEncoding
	if strings.ContainsAny(s, "-_") {
		enc = base64.URLEncoding
	}
	if !strings.HasSuffix(s, "=") {
		enc = enc.WithPadding(base64.NoPadding)
	}
	b, err := enc.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("encoded params are not base64: %w", err)
	}
	return b, nil
}

// SearchURL builds the booking-site search page URL for s under base.
func SearchURL(base string, s FlightSearch) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse search base url: %w", err)
	}

	q := u.Query()
	q.Set("from", s.From)
	q.Set("to", s.To)
	q.Set("departDate", s.DepartDate)
	q.Set("tripType", s.TripType)
	q.Set("adults", strconv.Itoa(s.Adults))
	setIf(q, "returnDate", s.ReturnDate)
	setIf(q, "airline", s.Airline)
	setIf(q, "cabin", s.Cabin)
	if s.Price > 0 {
		q.Set("price", strconv.FormatFloat(s.Price, 'f', -1, 64))
	}
	if s.Children > 0 {
		q.Set("children", strconv.Itoa(s.Children))
	}
	if s.Infants > 0 {
		q.Set("infants", strconv.Itoa(s.Infants))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func isIATA(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}
