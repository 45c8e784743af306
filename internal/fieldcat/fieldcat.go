// Package fieldcat holds the static IPFIX information-element catalog:
// an index by element id giving the name, wire byte length, and wire
// kind used to interpret template field definitions.
package fieldcat

// WireKind distinguishes fixed-width unsigned integers from opaque byte
// strings when interpreting a template field definition.
type WireKind int

const (
	// KindReserved marks an element id with no known definition.
	KindReserved WireKind = iota
	// KindUint is a fixed-width unsigned integer (1, 2, 4, or 8 bytes).
	KindUint
	// KindBytes is an opaque byte string of some other length (MAC
	// addresses, IPv6 addresses, MPLS label stacks, padding, ...).
	KindBytes
)

// Field describes one IPFIX information element.
type Field struct {
	ID     uint16
	Name   string
	Length int
	Kind   WireKind
}

const catalogSize = 512

var catalog [catalogSize]Field

func reserved(id uint16) Field {
	return Field{ID: id, Name: "RESERVED", Length: 0, Kind: KindReserved}
}

func uintField(id uint16, name string, length int) Field {
	return Field{ID: id, Name: name, Length: length, Kind: KindUint}
}

func bytesField(id uint16, name string, length int) Field {
	return Field{ID: id, Name: name, Length: length, Kind: KindBytes}
}

func init() {
	for i := range catalog {
		catalog[i] = reserved(uint16(i))
	}

	set := func(f Field) { catalog[f.ID] = f }

	set(bytesField(0, "pad", 1))
	set(uintField(1, "octetDeltaCount", 8))
	set(uintField(2, "packetDeltaCount", 8))
	set(uintField(4, "protocolIdentifier", 1))
	set(uintField(5, "ipClassOfService", 1))
	set(uintField(6, "tcpControlBits", 1))
	set(uintField(7, "sourceTransportPort", 2))
	set(uintField(8, "sourceIPv4Address", 4))
	set(uintField(9, "sourceIPv4PrefixLength", 1))
	set(uintField(10, "ingressInterface", 4))
	set(uintField(11, "destinationTransportPort", 2))
	set(uintField(12, "destinationIPv4Address", 4))
	set(uintField(13, "destinationIPv4PrefixLength", 1))
	set(uintField(14, "egressInterface", 4))
	set(uintField(15, "ipNextHopIPv4Address", 4))
	set(uintField(16, "bgpSourceAsNumber", 4))
	set(uintField(17, "bgpDestinationAsNumber", 4))
	set(uintField(18, "bgpNexthopIPv4Address", 4))
	set(uintField(19, "postMCastPacketDeltaCount", 8))
	set(uintField(20, "postMCastOctetDeltaCount", 8))
	set(uintField(21, "flowEndSysUpTime", 4))
	set(uintField(22, "flowStartSysUpTime", 4))
	set(uintField(23, "postOctetDeltaCount", 8))
	set(uintField(24, "postPacketDeltaCount", 8))
	set(uintField(25, "minimumIpTotalLength", 8))
	set(uintField(26, "maximumIpTotalLength", 8))
	set(bytesField(27, "sourceIPv6Address", 16))
	set(bytesField(28, "destinationIPv6Address", 16))
	set(uintField(29, "sourceIPv6PrefixLength", 1))
	set(uintField(30, "destinationIPv6PrefixLength", 1))
	set(uintField(31, "flowLabelIPv6", 4))
	set(uintField(32, "icmpTypeCodeIPv4", 2))
	set(uintField(33, "igmpType", 1))
	set(uintField(36, "flowActiveTimeout", 2))
	set(uintField(37, "flowIdleTimeout", 2))
	set(uintField(40, "exportedOctetTotalCount", 8))
	set(uintField(41, "exportedMessageTotalCount", 8))
	set(uintField(42, "exportedFlowRecordTotalCount", 8))
	set(uintField(44, "sourceIPv4Prefix", 4))
	set(uintField(45, "destinationIPv4Prefix", 4))
	set(uintField(46, "mplsTopLabelType", 1))
	set(uintField(47, "mplsTopLabelIPv4Address", 4))
	set(uintField(52, "minimumTTL", 1))
	set(uintField(53, "maximumTTL", 1))
	set(uintField(54, "fragmentIdentification", 4))
	set(uintField(55, "postIpClassOfService", 1))
	set(bytesField(56, "sourceMacAddress", 6))
	set(bytesField(57, "postDestinationMacAddress", 6))
	set(uintField(58, "vlanId", 2))
	set(uintField(59, "postVlanId", 2))
	set(uintField(60, "ipVersion", 1))
	set(uintField(61, "flowDirection", 1))
	set(bytesField(62, "ipNextHopIPv6Address", 16))
	set(bytesField(63, "bgpNexthopIPv6Address", 16))
	set(uintField(64, "ipv6ExtensionHeaders", 4))
	set(bytesField(70, "mplsTopLabelStackSection", 3))
	set(bytesField(71, "mplsLabelStackSection2", 3))
	set(bytesField(72, "mplsLabelStackSection3", 3))
	set(bytesField(73, "mplsLabelStackSection4", 3))
	set(bytesField(74, "mplsLabelStackSection5", 3))
	set(bytesField(75, "mplsLabelStackSection6", 3))
	set(bytesField(76, "mplsLabelStackSection7", 3))
	set(bytesField(77, "mplsLabelStackSection8", 3))
	set(bytesField(78, "mplsLabelStackSection9", 3))
	set(bytesField(79, "mplsLabelStackSection10", 3))
	set(bytesField(80, "destinationMacAddress", 6))
	set(bytesField(81, "postSourceMacAddress", 6))
	set(uintField(85, "octetTotalCount", 8))
	set(uintField(86, "packetTotalCount", 8))
	set(uintField(88, "fragmentOffset", 2))
	// mplsVpnRouteDistinguisher is variable-length in the RFC (up to 8
	// bytes of RD plus padding); the source table carries a length that
	// looks like a transcription artifact. Since variable-length IPFIX
	// fields are a declared Non-goal, this entry only needs to exist so
	// template walking doesn't misalign on its presence; it is never
	// cflowd-compatible.
	set(bytesField(90, "mplsVpnRouteDistinguisher", 8))
	set(uintField(128, "bgpNextAdjacentAsNumber", 4))
	set(uintField(129, "bgpPrevAdjacentAsNumber", 4))
	set(uintField(130, "exporterIPv4Address", 4))
	set(bytesField(131, "exporterIPv6Address", 16))
	set(uintField(132, "droppedOctetDeltaCount", 8))
	set(uintField(133, "droppedPacketDeltaCount", 8))
	set(uintField(134, "droppedOctetTotalCount", 8))
	set(uintField(135, "droppedPacketTotalCount", 8))
	set(uintField(136, "flowEndReason", 1))
	set(uintField(137, "commonPropertiesId", 8))
	set(uintField(138, "observationPointId", 4))
	set(uintField(139, "icmpTypeCodeIPv6", 2))
	set(bytesField(140, "mplsTopLabelIPv6Address", 16))
	set(uintField(141, "lineCardId", 4))
	set(uintField(142, "portId", 4))
	set(uintField(143, "meteringProcessId", 4))
	set(uintField(144, "exportingProcessId", 4))
	set(uintField(145, "templateId", 2))
	set(uintField(146, "wlanChannelId", 1))
	set(bytesField(147, "wlanSSID", 32))
	set(uintField(148, "flowId", 8))
	set(uintField(149, "observationDomainId", 4))
	set(uintField(150, "flowStartSeconds", 4))
	set(uintField(151, "flowEndSeconds", 4))
	set(uintField(152, "flowStartMilliseconds", 8))
	set(uintField(153, "flowEndMilliseconds", 8))
	set(uintField(154, "flowStartMicroseconds", 8))
	set(uintField(155, "flowEndMicroseconds", 8))
	set(uintField(156, "flowStartNanoseconds", 8))
	set(uintField(157, "flowEndNanoseconds", 8))
	set(uintField(158, "flowStartDeltaMicroseconds", 4))
	set(uintField(159, "flowEndDeltaMicroseconds", 4))
	set(uintField(160, "systemInitTimeMilliseconds", 8))
	set(uintField(161, "flowDurationMilliseconds", 4))
	set(uintField(162, "flowDurationMicroseconds", 4))
	set(uintField(163, "observedFlowTotalCount", 8))
	set(uintField(164, "ignoredPacketTotalCount", 8))
	set(uintField(165, "ignoredOctetTotalCount", 8))
	set(uintField(166, "notSentFlowTotalCount", 8))
	set(uintField(167, "notSentPacketTotalCount", 8))
	set(uintField(168, "notSentOctetTotalCount", 8))
	set(uintField(169, "destinationIPv6Prefix", 1))
	set(bytesField(170, "sourceIPv6Prefix", 16))
	set(uintField(171, "postOctetTotalCount", 8))
	set(uintField(172, "postPacketTotalCount", 8))
	set(uintField(173, "flowKeyIndicator", 8))
	set(uintField(174, "postMCastPacketTotalCount", 8))
	set(uintField(175, "postMCastOctetTotalCount", 8))
	set(uintField(176, "icmpTypeIPv4", 1))
	set(uintField(177, "icmpCodeIPv4", 1))
	set(uintField(178, "icmpTypeIPv6", 1))
	set(uintField(179, "icmpCodeIPv6", 1))
	set(uintField(180, "udpSourcePort", 2))
	set(uintField(181, "udpDestinationPort", 2))
	set(uintField(182, "tcpSourcePort", 2))
	set(uintField(183, "tcpDestinationPort", 2))
	set(uintField(184, "tcpSequenceNumber", 4))
	set(uintField(185, "tcpAcknowledgementNumber", 4))
	set(uintField(186, "tcpWindowSize", 2))
	set(uintField(187, "tcpUrgentPointer", 2))
	set(uintField(188, "tcpHeaderLength", 1))
	set(uintField(189, "ipHeaderLength", 1))
	set(uintField(190, "totalLengthIPv4", 2))
	set(uintField(191, "payloadLengthIPv6", 2))
	set(uintField(192, "ipTTL", 1))
	set(uintField(193, "nextHeaderIPv6", 1))
	set(uintField(194, "mplsPayloadLength", 4))
	set(uintField(195, "ipDiffServCodePoint", 1))
	set(uintField(196, "ipPrecedence", 1))
	set(uintField(197, "fragmentFlags", 1))
	set(uintField(198, "octetDeltaSumOfSquares", 8))
	set(uintField(199, "octetTotalSumOfSquares", 8))
	set(uintField(200, "mplsTopLabelTTL", 1))
	set(uintField(201, "mplsLabelStackLength", 4))
	set(uintField(202, "mplsLabelStackDepth", 4))
	set(uintField(203, "mplsTopLabelExp", 1))
	set(uintField(204, "ipPayloadLength", 4))
	set(uintField(205, "udpMessageLength", 2))
	set(uintField(206, "isMulticast", 1))
	set(uintField(207, "ipv4IHL", 1))
	set(uintField(208, "ipv4Options", 4))
	set(uintField(209, "tcpOptions", 8))
	set(uintField(214, "exportProtocolVersion", 1))
	set(uintField(215, "exportTransportProtocol", 1))
	set(uintField(243, "dot1qVlanId", 2))
	set(uintField(245, "dot1qCustomerVlanId", 2))
	set(uintField(256, "ethernetType", 2))
}

// ByID returns the catalog entry for an IPFIX element id, ignoring the
// enterprise bit (callers resolve enterprise-scoped ids before calling
// this; see the template package's EnterpriseBit handling). Ids outside
// the catalog range return the RESERVED entry.
func ByID(id uint16) Field {
	if int(id) >= catalogSize {
		return reserved(id)
	}
	return catalog[id]
}

// ByteWidth returns the expected byte width for KindUint fields of the
// given length, used to pick the byte-reversal stride in the byte-move
// planner. Non-{1,2,4,8} lengths are treated as opaque byte runs.
func ByteWidth(length int) (width int, ok bool) {
	switch length {
	case 1, 2, 4, 8:
		return length, true
	default:
		return 0, false
	}
}
