package meta

const (
	// CLIName is the canonical name of the carl command line tool
	CLIName = "carl"

	// ProductName is the long form name of the assistant
	ProductName = "CARL (Corporate Assistant for Rapid Lookups)"
)
