package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	regionCmds
	scanCmds
	dataCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Listing and selecting memory regions", regionCmds},
	{"Searching for values", scanCmds},
	{"Reading and writing memory", dataCmds},
	{"Other commands", otherCmds},
}
