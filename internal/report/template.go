// Package report turns a complete testing session into a structured report
// document, renders it and stores it in the remote store.
package report

import (
	"github.com/tphakala/magtest/internal/model"
)

// ContentKind selects what a template section renders
type ContentKind string

const (
	ContentFields           ContentKind = "fields"
	ContentWaveform         ContentKind = "waveform"
	ContentDataTable        ContentKind = "data-table"
	ContentDefectStatistics ContentKind = "defect-statistics"
	ContentDefectTable      ContentKind = "defect-table"
	ContentCustom           ContentKind = "custom"
)

// Section is one block of a template. A section with Fields renders them as
// label/value pairs regardless of Content.
type Section struct {
	Title         string      `json:"title"`
	Fields        []string    `json:"fields,omitempty"`
	Content       ContentKind `json:"content,omitempty"`
	CustomContent string      `json:"customContent,omitempty"`
	Required      bool        `json:"required"`
}

// Kind returns the effective content kind of the section
func (s Section) Kind() ContentKind {
	switch {
	case len(s.Fields) > 0:
		return ContentFields
	case s.Content == "":
		return ContentCustom
	}
	return s.Content
}

// Header describes the report title block
type Header struct {
	Title              string `json:"title"`
	Subtitle           string `json:"subtitle"`
	StandardReference  string `json:"standardReference"`
	IncludeCompanyLogo bool   `json:"includeCompanyLogo"`
	IncludeDate        bool   `json:"includeDate"`
}

// Footer describes the page footer
type Footer struct {
	IncludePageNumbers bool   `json:"includePageNumbers"`
	CustomText         string `json:"customText,omitempty"`
}

// Signatures selects the signature blocks
type Signatures struct {
	Operator  bool `json:"operator"`
	Inspector bool `json:"inspector"`
	Reviewer  bool `json:"reviewer"`
	Approver  bool `json:"approver"`
}

// Template is a standard-specific report layout
type Template struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Standard    model.Standard `json:"standard"`
	Description string         `json:"description"`
	Header      Header         `json:"header"`
	Sections    []Section      `json:"sections"`
	Footer      Footer         `json:"footer"`
	Signatures  Signatures     `json:"signatures"`
}

// ASMETemplate follows ASME Section V, Article 7
func ASMETemplate() Template {
	return Template{
		ID:          "asme-v-article-7",
		Name:        "ASME Section V Article 7",
		Standard:    model.StandardASME,
		Description: "Magnetic Particle Testing Report per ASME Section V, Article 7",
		Header: Header{
			Title:              "Magnetic Particle Testing Report",
			Subtitle:           "Non-Destructive Examination",
			StandardReference:  "ASME Section V, Article 7",
			IncludeCompanyLogo: true,
			IncludeDate:        true,
		},
		Sections: []Section{
			{Title: "Test Information", Fields: []string{"projectName", "testDate", "operator", "sessionId", "status", "duration"}, Required: true},
			{Title: "Equipment Information", Fields: []string{"equipmentModel", "equipmentSerial", "testLocation"}, Required: true},
			{Title: "Material Information", Fields: []string{"partNumber", "materialType", "customerName"}},
			{Title: "Testing Parameters", Content: ContentCustom, Required: true},
			{Title: "Waveform Display", Content: ContentWaveform, Required: true},
			{Title: "Data Summary", Content: ContentDataTable, Required: true},
			{Title: "Defect Analysis", Content: ContentDefectStatistics, Required: true},
			{Title: "Defect Details", Content: ContentDefectTable},
			{Title: "Conclusion", Content: ContentCustom, Required: true},
			{Title: "Acceptance Criteria", CustomContent: "Per ASME Section V, Article 7, all relevant indications shall be evaluated.", Required: true},
		},
		Footer:     Footer{IncludePageNumbers: true, CustomText: "This report is valid only with authorized signatures"},
		Signatures: Signatures{Operator: true, Inspector: true},
	}
}

// ISOTemplate follows ISO 9712
func ISOTemplate() Template {
	return Template{
		ID:          "iso-9712",
		Name:        "ISO 9712",
		Standard:    model.StandardISO,
		Description: "Non-destructive Testing Report per ISO 9712",
		Header: Header{
			Title:              "Non-Destructive Testing Report",
			Subtitle:           "Magnetic Particle Inspection",
			StandardReference:  "ISO 9712 - Non-destructive Testing Personnel Qualification",
			IncludeCompanyLogo: true,
			IncludeDate:        true,
		},
		Sections: []Section{
			{Title: "General Information", Fields: []string{"projectName", "testDate", "operator", "sessionId", "testLocation"}, Required: true},
			{Title: "Test Object", Fields: []string{"partNumber", "materialType", "customerName"}, Required: true},
			{Title: "Test Equipment", Fields: []string{"equipmentModel", "equipmentSerial"}, Required: true},
			{Title: "Test Procedure", Content: ContentCustom, CustomContent: "Testing performed in accordance with ISO 9712 requirements.", Required: true},
			{Title: "Test Parameters", Content: ContentCustom, Required: true},
			{Title: "Test Results - Waveform", Content: ContentWaveform, Required: true},
			{Title: "Test Results - Data", Content: ContentDataTable, Required: true},
			{Title: "Indications Found", Content: ContentDefectStatistics, Required: true},
			{Title: "Indication Details", Content: ContentDefectTable, Required: true},
			{Title: "Evaluation", Content: ContentCustom, Required: true},
			{Title: "Remarks", Content: ContentCustom},
		},
		Footer:     Footer{IncludePageNumbers: true, CustomText: "Report prepared by certified NDT personnel"},
		Signatures: Signatures{Operator: true, Inspector: true, Reviewer: true},
	}
}

// ENTemplate follows EN 10228
func ENTemplate() Template {
	return Template{
		ID:          "en-10228",
		Name:        "EN 10228",
		Standard:    model.StandardEN,
		Description: "Steel Forgings Testing Report per EN 10228",
		Header: Header{
			Title:              "Non-Destructive Testing Report",
			Subtitle:           "Magnetic Particle Testing of Steel Forgings",
			StandardReference:  "EN 10228 - Non-destructive Testing of Steel Forgings",
			IncludeCompanyLogo: true,
			IncludeDate:        true,
		},
		Sections: []Section{
			{Title: "Identification", Fields: []string{"projectName", "partNumber", "materialType", "customerName"}, Required: true},
			{Title: "Test Details", Fields: []string{"testDate", "operator", "testLocation", "equipmentModel"}, Required: true},
			{Title: "Test Conditions", Content: ContentCustom, Required: true},
			{Title: "Testing Parameters", Content: ContentCustom, Required: true},
			{Title: "Waveform Recording", Content: ContentWaveform, Required: true},
			{Title: "Measurement Data", Content: ContentDataTable, Required: true},
			{Title: "Defect Assessment", Content: ContentDefectStatistics, Required: true},
			{Title: "Defect Register", Content: ContentDefectTable, Required: true},
			{Title: "Test Result", Content: ContentCustom, Required: true},
			{Title: "Acceptance Level", CustomContent: "Acceptance criteria per EN 10228 requirements.", Required: true},
		},
		Footer:     Footer{IncludePageNumbers: true, CustomText: "Certified in accordance with EN standards"},
		Signatures: Signatures{Operator: true, Inspector: true, Approver: true},
	}
}

// ASTMTemplate follows ASTM E709
func ASTMTemplate() Template {
	return Template{
		ID:          "astm-e709",
		Name:        "ASTM E709",
		Standard:    model.StandardASTM,
		Description: "Magnetic Particle Testing Report per ASTM E709",
		Header: Header{
			Title:              "Magnetic Particle Testing Report",
			Subtitle:           "Standard Guide for Magnetic Particle Testing",
			StandardReference:  "ASTM E709 - Standard Guide for Magnetic Particle Testing",
			IncludeCompanyLogo: true,
			IncludeDate:        true,
		},
		Sections: []Section{
			{Title: "Report Information", Fields: []string{"projectName", "testDate", "operator", "sessionId"}, Required: true},
			{Title: "Part Information", Fields: []string{"partNumber", "materialType", "customerName", "testLocation"}, Required: true},
			{Title: "Equipment", Fields: []string{"equipmentModel", "equipmentSerial"}, Required: true},
			{Title: "Test Method", CustomContent: "Testing conducted per ASTM E709 standard practice.", Required: true},
			{Title: "Test Parameters", Content: ContentCustom, Required: true},
			{Title: "Waveform Data", Content: ContentWaveform, Required: true},
			{Title: "Statistical Summary", Content: ContentDataTable, Required: true},
			{Title: "Discontinuities", Content: ContentDefectStatistics, Required: true},
			{Title: "Discontinuity Details", Content: ContentDefectTable},
			{Title: "Interpretation", Content: ContentCustom, Required: true},
			{Title: "Disposition", Content: ContentCustom, Required: true},
		},
		Footer:     Footer{IncludePageNumbers: true, CustomText: "Report conforms to ASTM E709 requirements"},
		Signatures: Signatures{Operator: true, Inspector: true},
	}
}

// CustomTemplate is the user-adjustable layout
func CustomTemplate() Template {
	return Template{
		ID:          "custom",
		Name:        "Custom Template",
		Standard:    model.StandardCustom,
		Description: "Customizable report template",
		Header: Header{
			Title:              "Magnetic Testing Report",
			Subtitle:           "Custom Format",
			StandardReference:  "Custom Testing Standard",
			IncludeCompanyLogo: true,
			IncludeDate:        true,
		},
		Sections: []Section{
			{Title: "Test Information", Fields: []string{"projectName", "testDate", "operator", "sessionId"}, Required: true},
			{Title: "Testing Parameters", Content: ContentCustom, Required: true},
			{Title: "Waveform Display", Content: ContentWaveform, Required: true},
			{Title: "Data Summary", Content: ContentDataTable, Required: true},
			{Title: "Defect Analysis", Content: ContentDefectStatistics, Required: true},
			{Title: "Conclusion", Content: ContentCustom, Required: true},
		},
		Footer:     Footer{IncludePageNumbers: true},
		Signatures: Signatures{Operator: true, Inspector: true},
	}
}

// TemplateFor returns the built-in template for a standard, falling back to ASME
func TemplateFor(standard model.Standard) Template {
	switch standard {
	case model.StandardISO:
		return ISOTemplate()
	case model.StandardEN:
		return ENTemplate()
	case model.StandardASTM:
		return ASTMTemplate()
	case model.StandardCustom:
		return CustomTemplate()
	}
	return ASMETemplate()
}

// Templates lists every built-in template
func Templates() []Template {
	return []Template{ASMETemplate(), ISOTemplate(), ENTemplate(), ASTMTemplate(), CustomTemplate()}
}
