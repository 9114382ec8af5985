package models

import "encoding/xml"

// WikiStructure is the parsed form of the <wiki_structure> XML document
// produced in the structure generation phase.
type WikiStructure struct {
	XMLName      xml.Name           `xml:"wiki_structure" json:"-"`
	Title        string             `xml:"title" json:"title"`
	Description  string             `xml:"description" json:"description"`
	Pages        []StructurePage    `xml:"pages>page" json:"pages"`
	Sections     []StructureSection `xml:"sections>section" json:"sections,omitempty"`
	RootSections []string           `xml:"-" json:"rootSections,omitempty"`
}

// StructurePage is one page entry within the structure document.
type StructurePage struct {
	ID            string   `xml:"id,attr" json:"id"`
	Title         string   `xml:"title" json:"title"`
	Description   string   `xml:"description" json:"description"`
	Importance    string   `xml:"importance" json:"importance"`
	RelevantFiles []string `xml:"relevant_files>file_path" json:"relevant_files"`
	RelatedPages  []string `xml:"related_pages>related" json:"related_pages,omitempty"`
	ParentSection string   `xml:"parent_section" json:"parent_section,omitempty"`
}

// StructureSection groups pages in comprehensive mode.
type StructureSection struct {
	ID          string   `xml:"id,attr" json:"id"`
	Title       string   `xml:"title" json:"title"`
	PageRefs    []string `xml:"pages>page_ref" json:"pages,omitempty"`
	Subsections []string `xml:"subsections>section_ref" json:"subsections,omitempty"`
}

// ComputeRootSections fills RootSections with every section that no
// other section references as a subsection.
func (s *WikiStructure) ComputeRootSections() {
	referenced := make(map[string]bool)
	for _, section := range s.Sections {
		for _, sub := range section.Subsections {
			referenced[sub] = true
		}
	}
	s.RootSections = s.RootSections[:0]
	for _, section := range s.Sections {
		if !referenced[section.ID] {
			s.RootSections = append(s.RootSections, section.ID)
		}
	}
}

// NormalizedImportance clamps free-form importance text to a known rank.
func (p *StructurePage) NormalizedImportance() PageImportance {
	switch p.Importance {
	case "high":
		return ImportanceHigh
	case "low":
		return ImportanceLow
	default:
		return ImportanceMedium
	}
}
