package courtlistener

import "time"

// apiCourt mirrors a /courts/ result.
type apiCourt struct {
	ID           string `json:"id"`
	FullName     string `json:"full_name"`
	ShortName    string `json:"short_name"`
	Jurisdiction string `json:"jurisdiction"`
	URL          string `json:"url"`
	InUse        bool   `json:"in_use"`
}

type courtListResponse struct {
	Count    int        `json:"count"`
	Next     string     `json:"next"`
	Previous string     `json:"previous"`
	Results  []apiCourt `json:"results"`
}

// apiPerson mirrors a /people/ result.
type apiPerson struct {
	ID           int    `json:"id"`
	NameFirst    string `json:"name_first"`
	NameMiddle   string `json:"name_middle"`
	NameLast     string `json:"name_last"`
	DateCreated  string `json:"date_created"`
	DateModified string `json:"date_modified"`
}

type personListResponse struct {
	Count    int         `json:"count"`
	Next     string      `json:"next"`
	Previous string      `json:"previous"`
	Results  []apiPerson `json:"results"`
}

// Position is one judicial position held by a judge.
type Position struct {
	ID              int    `json:"id"`
	PositionType    string `json:"position_type"`
	Court           string `json:"court"`
	DateStart       string `json:"date_start"`
	DateTermination string `json:"date_termination"`
	HowSelected     string `json:"how_selected"`
}

type positionListResponse struct {
	Count   int        `json:"count"`
	Next    string     `json:"next"`
	Results []Position `json:"results"`
}

// Education is one education record for a judge.
type Education struct {
	ID         int    `json:"id"`
	SchoolName string `json:"school_name"`
	Degree     string `json:"degree_level"`
	DegreeYear int    `json:"degree_year"`
}

type educationListResponse struct {
	Count   int         `json:"count"`
	Next    string      `json:"next"`
	Results []Education `json:"results"`
}

// PoliticalAffiliation is one party affiliation record for a judge.
type PoliticalAffiliation struct {
	ID             int    `json:"id"`
	PoliticalParty string `json:"political_party"`
	Source         string `json:"source"`
	DateStart      string `json:"date_start"`
}

type affiliationListResponse struct {
	Count   int                    `json:"count"`
	Next    string                 `json:"next"`
	Results []PoliticalAffiliation `json:"results"`
}

// apiOpinionCluster mirrors an /opinions/ (cluster) result.
type apiOpinionCluster struct {
	ID        int    `json:"id"`
	CaseName  string `json:"case_name"`
	Court     string `json:"court"`
	DateFiled string `json:"date_filed"`
}

type opinionListResponse struct {
	Count   int                 `json:"count"`
	Next    string              `json:"next"`
	Results []apiOpinionCluster `json:"results"`
}

// apiDocket mirrors a /dockets/ result.
type apiDocket struct {
	ID           int    `json:"id"`
	CaseName     string `json:"case_name"`
	Court        string `json:"court"`
	DateFiled    string `json:"date_filed"`
	DocketNumber string `json:"docket_number"`
}

type docketListResponse struct {
	Count   int         `json:"count"`
	Next    string      `json:"next"`
	Results []apiDocket `json:"results"`
}

// parseAPIDate parses the date-only and datetime formats the API mixes.
func parseAPIDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
