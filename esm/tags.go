package esm

// Record type tags known to the scanner. A candidate header whose type is
// not in this registry is not a record, full stop; the forensic scanner
// leans on that to reject garbage cheaply.
var (
	TagGRUP = TagOf("GRUP")
	TagTES4 = TagOf("TES4")

	TagACTI = TagOf("ACTI")
	TagALCH = TagOf("ALCH")
	TagAMMO = TagOf("AMMO")
	TagARMO = TagOf("ARMO")
	TagBOOK = TagOf("BOOK")
	TagCELL = TagOf("CELL")
	TagCONT = TagOf("CONT")
	TagDIAL = TagOf("DIAL")
	TagDOOR = TagOf("DOOR")
	TagFACT = TagOf("FACT")
	TagGLOB = TagOf("GLOB")
	TagINFO = TagOf("INFO")
	TagKEYM = TagOf("KEYM")
	TagLIGH = TagOf("LIGH")
	TagLVLI = TagOf("LVLI")
	TagMISC = TagOf("MISC")
	TagNOTE = TagOf("NOTE")
	TagNPC  = TagOf("NPC_")
	TagQUST = TagOf("QUST")
	TagRACE = TagOf("RACE")
	TagREFR = TagOf("REFR")
	TagSCPT = TagOf("SCPT")
	TagSOUN = TagOf("SOUN")
	TagSPEL = TagOf("SPEL")
	TagSTAT = TagOf("STAT")
	TagTERM = TagOf("TERM")
	TagWEAP = TagOf("WEAP")
	TagWRLD = TagOf("WRLD")
)

// Subrecord tags with engine-wide meaning.
var (
	subEDID = TagOf("EDID") // editor identifier, NUL-terminated string
	subFULL = TagOf("FULL") // human-readable display name
	subXXXX = TagOf("XXXX") // size extension for the following subrecord

	subSCRI = TagOf("SCRI") // script reference
	subNAME = TagOf("NAME") // placed-object base reference
	subQSTI = TagOf("QSTI") // quest reference
	subENAM = TagOf("ENAM") // effect/enchantment reference
	subTPLT = TagOf("TPLT") // actor template reference
	subRNAM = TagOf("RNAM") // race reference
	subSNAM = TagOf("SNAM") // sound reference
	subXCLR = TagOf("XCLR") // cell region list
)

var knownRecordTypes = map[Tag]struct{}{
	TagTES4: {},
	TagACTI: {}, TagALCH: {}, TagAMMO: {}, TagARMO: {}, TagBOOK: {},
	TagCELL: {}, TagCONT: {}, TagDIAL: {}, TagDOOR: {}, TagFACT: {},
	TagGLOB: {}, TagINFO: {}, TagKEYM: {}, TagLIGH: {}, TagLVLI: {},
	TagMISC: {}, TagNOTE: {}, TagNPC: {}, TagQUST: {}, TagRACE: {},
	TagREFR: {}, TagSCPT: {}, TagSOUN: {}, TagSPEL: {}, TagSTAT: {},
	TagTERM: {}, TagWEAP: {}, TagWRLD: {},
}

// KnownRecordType reports whether tag names a parseable record type.
// GRUP is a container, not a record, and is handled separately.
func KnownRecordType(tag Tag) bool {
	_, ok := knownRecordTypes[tag]
	return ok
}
