package addr

// AddrInfo mirrors a single node of a getaddrinfo(3) result chain (spec
// §3.1). Chains are singly linked, finite, and acyclic; Clone walks the
// chain iteratively to avoid recursion depth issues on pathological inputs.
type AddrInfo struct {
	Flags      int32
	Family     Family
	SockType   int32
	Protocol   int32
	Addr       *Address
	CanonName  *string
	Next       *AddrInfo
}

// Clone deep-copies the chain starting at head, preserving order and every
// owned substring/address. Returns nil for a nil head.
func (head *AddrInfo) Clone() *AddrInfo {
	if head == nil {
		return nil
	}
	var firstClone, lastClone *AddrInfo
	for n := head; n != nil; n = n.Next {
		c := &AddrInfo{
			Flags:    n.Flags,
			Family:   n.Family,
			SockType: n.SockType,
			Protocol: n.Protocol,
			Addr:     n.Addr.Clone(),
		}
		if n.CanonName != nil {
			s := *n.CanonName
			c.CanonName = &s
		}
		if firstClone == nil {
			firstClone = c
		} else {
			lastClone.Next = c
		}
		lastClone = c
	}
	return firstClone
}

// Len returns the number of nodes in the chain.
func (head *AddrInfo) Len() int {
	n := 0
	for c := head; c != nil; c = c.Next {
		n++
	}
	return n
}

// Append links node after the last element of head, modifying head's chain
// in place, and returns head (or node itself, if head is nil). node.Next is
// left unchanged.
func Append(head, node *AddrInfo) *AddrInfo {
	if head == nil {
		return node
	}
	n := head
	for n.Next != nil {
		n = n.Next
	}
	n.Next = node
	return head
}
