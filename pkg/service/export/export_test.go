package export

var (
	ValidateName = validateName
	SplitGCSPath = splitGCSPath
)
