// Package gateway decides, for every inbound request, whether it may proceed.
//
// A Policy is built once at startup and handed to a Classifier, which maps a
// (path, method) pair to a Visibility. Authorize combines that classification
// with the caller's session into a Decision, and Gate applies decisions as
// HTTP middleware: data calls under /api get JSON errors, page navigations get
// redirected to the login page with their original target preserved.
package gateway
