// Package coordstore is the one package allowed to speak to the
// external coordinator directly. Every other package reaches the
// store only through a *Client.
package coordstore
