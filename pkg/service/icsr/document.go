package icsr

import "encoding/xml"

// Namespace of every document root
const Namespace = "urn:hl7-org:v3"

// Root element names
const (
	RootCase  = "PORR_IN049016UV"
	RootBatch = "MCCI_IN200100UV01"
)

// Identifier roots. Every identifier is written as <id root="OID" extension="value"/>.
const (
	OIDMessageNumber     = "2.16.840.1.113883.3.989.2.1.3.1"
	OIDSafetyReportID    = "2.16.840.1.113883.3.989.2.1.3.2"
	OIDWorldwideUniqueID = "2.16.840.1.113883.3.989.2.1.3.3"
	OIDSenderCaseID      = "2.16.840.1.113883.3.989.2.1.3.4"
	OIDMessageSender     = "2.16.840.1.113883.3.989.2.1.3.11"
	OIDMessageReceiver   = "2.16.840.1.113883.3.989.2.1.3.12"
	OIDBatchNumber       = "2.16.840.1.113883.3.989.2.1.3.22"
)

// Code systems of coded elements
const (
	CodeSystemReportType       = "2.16.840.1.113883.3.989.2.1.1.2"
	CodeSystemFollowupType     = "2.16.840.1.113883.3.989.2.1.1.3"
	CodeSystemSenderType       = "2.16.840.1.113883.3.989.2.1.1.7"
	CodeSystemQualification    = "2.16.840.1.113883.3.989.2.1.1.6"
	CodeSystemOutcome          = "2.16.840.1.113883.3.989.2.1.1.11"
	CodeSystemAction           = "2.16.840.1.113883.3.989.2.1.1.15"
	CodeSystemRoute            = "2.16.840.1.113883.3.989.2.1.1.14"
	CodeSystemCharacterization = "2.16.840.1.113883.3.989.2.1.1.13"
	CodeSystemSeriousness      = "2.16.840.1.113883.3.989.2.1.1.19"
	CodeSystemSex              = "1.0.5218"
	CodeSystemMarketCategory   = "2.16.840.1.113883.3.989.5.1.2.1.1"
	CodeSystemBatchType        = "2.16.840.1.113883.3.989.5.1.2.1.2"
	CodeSystemMedDRA           = "2.16.840.1.113883.6.163"
)

type batchDocument struct {
	XMLName    xml.Name       `xml:"MCCI_IN200100UV01"`
	Xmlns      string         `xml:"xmlns,attr,omitempty"`
	ITSVersion string         `xml:"ITSVersion,attr,omitempty"`
	Header     messageHeader  `xml:"messageHeader"`
	Bodies     []caseDocument `xml:"PORR_IN049016UV"`
}

type caseDocument struct {
	XMLName    xml.Name       `xml:"PORR_IN049016UV"`
	Xmlns      string         `xml:"xmlns,attr,omitempty"`
	ITSVersion string         `xml:"ITSVersion,attr,omitempty"`
	Header     *messageHeader `xml:"messageHeader,omitempty"`
	ID         *identifier    `xml:"id,omitempty"`
	Report     safetyReport   `xml:"safetyReport"`
}

type messageHeader struct {
	ID           identifier `xml:"id"`
	CreationTime value      `xml:"creationTime"`
	BatchType    *code      `xml:"batchType,omitempty"`
	Receiver     party      `xml:"receiver"`
	Sender       party      `xml:"sender"`
}

type party struct {
	Device device `xml:"device"`
}

type device struct {
	ID identifier `xml:"id"`
}

type identifier struct {
	Root      string `xml:"root,attr"`
	Extension string `xml:"extension,attr"`
}

type code struct {
	Code              string `xml:"code,attr"`
	CodeSystem        string `xml:"codeSystem,attr,omitempty"`
	CodeSystemVersion string `xml:"codeSystemVersion,attr,omitempty"`
	DisplayName       string `xml:"displayName,attr,omitempty"`
}

type value struct {
	Value string `xml:"value,attr"`
}

type quantity struct {
	Value string `xml:"value,attr"`
	Unit  string `xml:"unit,attr,omitempty"`
}

type safetyReport struct {
	IDs                   []identifier    `xml:"id"`
	ReportType            code            `xml:"reportType"`
	MarketCategory        code            `xml:"marketCategory"`
	ReceiptDate           value           `xml:"receiptDate"`
	MostRecentReceiptDate *value          `xml:"mostRecentReceiptDate,omitempty"`
	VersionNumber         value           `xml:"versionNumber"`
	FollowupType          code            `xml:"followupType"`
	Nullification         *nullification  `xml:"nullification,omitempty"`
	RelatedReport         *relatedReport  `xml:"relatedReport,omitempty"`
	Serious               value           `xml:"serious"`
	SeriousnessCriteria   *criteriaSet    `xml:"seriousnessCriteria,omitempty"`
	PrimarySources        []primarySource `xml:"primarySource"`
	Sender                senderInfo      `xml:"senderInformation"`
	Patient               patient         `xml:"patient"`
	Reactions             []reaction      `xml:"reaction"`
	Drugs                 []drug          `xml:"drug"`
	Narrative             string          `xml:"narrative"`
	ReporterComments      string          `xml:"reporterComments,omitempty"`
	SenderComments        string          `xml:"senderComments,omitempty"`
}

type nullification struct {
	Reason string `xml:"reason"`
}

type relatedReport struct {
	ID identifier `xml:"id"`
}

type criteriaSet struct {
	Criteria []code `xml:"criterion"`
}

type primarySource struct {
	Primary       bool   `xml:"primaryForRegulatoryPurposes,attr,omitempty"`
	ID            string `xml:"id,attr,omitempty"`
	GivenName     string `xml:"givenName,omitempty"`
	FamilyName    string `xml:"familyName,omitempty"`
	Organization  string `xml:"organization,omitempty"`
	Qualification *code  `xml:"qualification,omitempty"`
	Country       string `xml:"countryCode,omitempty"`
	Email         string `xml:"email,omitempty"`
}

type senderInfo struct {
	Type         code   `xml:"senderType"`
	Organization string `xml:"organization"`
	Department   string `xml:"department,omitempty"`
	GivenName    string `xml:"givenName,omitempty"`
	FamilyName   string `xml:"familyName,omitempty"`
	Email        string `xml:"email,omitempty"`
	Country      string `xml:"countryCode,omitempty"`
}

type patient struct {
	Initials       string    `xml:"name,omitempty"`
	BirthTime      *value    `xml:"birthTime,omitempty"`
	Age            *quantity `xml:"age,omitempty"`
	Sex            *code     `xml:"administrativeGenderCode,omitempty"`
	BodyWeight     *quantity `xml:"bodyWeight,omitempty"`
	Height         *quantity `xml:"height,omitempty"`
	MedicalHistory string    `xml:"medicalHistory,omitempty"`
}

type reaction struct {
	ID           string `xml:"id,attr,omitempty"`
	ReportedTerm string `xml:"reportedTerm,omitempty"`
	MedDRA       *code  `xml:"meddraCode,omitempty"`
	StartDate    *value `xml:"startDate,omitempty"`
	EndDate      *value `xml:"endDate,omitempty"`
	Outcome      *code  `xml:"outcome,omitempty"`
}

type drug struct {
	ID               string      `xml:"id,attr,omitempty"`
	Characterization code        `xml:"characterization"`
	ProductName      string      `xml:"medicinalProduct"`
	LotNumber        string      `xml:"lotNumber,omitempty"`
	Indication       string      `xml:"indication,omitempty"`
	StartDate        *value      `xml:"startDate,omitempty"`
	EndDate          *value      `xml:"endDate,omitempty"`
	Substances       []substance `xml:"activeSubstance,omitempty"`
	Dosages          []dosage    `xml:"dosage,omitempty"`
	Route            *code       `xml:"routeOfAdministration,omitempty"`
	ActionTaken      *code       `xml:"actionTaken,omitempty"`
}

type substance struct {
	Name     string    `xml:"name"`
	Strength *quantity `xml:"strength,omitempty"`
}

type dosage struct {
	Dose      *quantity `xml:"doseQuantity,omitempty"`
	Frequency string    `xml:"frequency,omitempty"`
	StartDate *value    `xml:"startDate,omitempty"`
	EndDate   *value    `xml:"endDate,omitempty"`
	Text      string    `xml:"text,omitempty"`
}
