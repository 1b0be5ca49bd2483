// Package native holds the primitives for the display-protocol side of the
// gateway: the Unix listener clients connect to, peer credential lookup, and
// reads that also collect descriptors passed as ancillary data.
package native
