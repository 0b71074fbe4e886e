package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"sort"

	"github.com/felixgeelhaar/meetdash/internal/errors"
)

// File is an upload held in memory so the request can be replayed.
type File struct {
	Name string
	Data []byte
}

// ProfileUpdate is a partial profile. Nil fields are left untouched.
type ProfileUpdate struct {
	DisplayName          *string `json:"display_name,omitempty" validate:"omitempty,max=100"`
	Bio                  *string `json:"bio,omitempty" validate:"omitempty,max=500"`
	Phone                *string `json:"phone,omitempty" validate:"omitempty,phone"`
	Website              *string `json:"website,omitempty" validate:"omitempty,url"`
	Company              *string `json:"company,omitempty"`
	JobTitle             *string `json:"job_title,omitempty"`
	TimezoneName         *string `json:"timezone_name,omitempty"`
	Language             *string `json:"language,omitempty"`
	DateFormat           *string `json:"date_format,omitempty"`
	TimeFormat           *string `json:"time_format,omitempty"`
	BrandColor           *string `json:"brand_color,omitempty" validate:"omitempty,brandcolor"`
	PublicProfile        *bool   `json:"public_profile,omitempty"`
	ShowPhone            *bool   `json:"show_phone,omitempty"`
	ShowEmail            *bool   `json:"show_email,omitempty"`
	ReasonableHoursStart *int    `json:"reasonable_hours_start,omitempty" validate:"omitempty,gte=0,lte=23"`
	ReasonableHoursEnd   *int    `json:"reasonable_hours_end,omitempty" validate:"omitempty,gte=1,lte=24"`

	ProfilePicture *File `json:"-"`
	BrandLogo      *File `json:"-"`
}

// HasFiles reports whether the update must be sent as multipart.
func (u ProfileUpdate) HasFiles() bool {
	return u.ProfilePicture != nil || u.BrandLogo != nil
}

// IsEmpty reports whether the update changes nothing.
func (u ProfileUpdate) IsEmpty() bool {
	data, _ := json.Marshal(u)
	return string(data) == "{}" && !u.HasFiles()
}

// multipart encodes scalar fields as form values and files as parts.
func (u ProfileUpdate) multipart() (*body, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeAPIRequest, "failed to encode profile", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, errors.Wrap(errors.ErrCodeAPIRequest, "failed to encode profile", err)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, k := range keys {
		if err := w.WriteField(k, formValue(fields[k])); err != nil {
			return nil, errors.Wrap(errors.ErrCodeAPIRequest, "failed to encode profile", err)
		}
	}
	for name, f := range map[string]*File{"profile_picture": u.ProfilePicture, "brand_logo": u.BrandLogo} {
		if f == nil {
			continue
		}
		part, err := w.CreateFormFile(name, f.Name)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeAPIRequest, "failed to attach "+name, err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, errors.Wrap(errors.ErrCodeAPIRequest, "failed to attach "+name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeAPIRequest, "failed to encode profile", err)
	}
	return &body{contentType: w.FormDataContentType(), data: buf.Bytes()}, nil
}

func formValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}
