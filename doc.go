/*
Package ndns implements a filtering DNS forwarder. Queries are received over plain UDP,
DNS-over-HTTP/3 or DNS-over-QUIC, the query name is checked against a list of blocked
domain suffixes, and queries that aren't blocked are forwarded to a single upstream
resolver. There are 4 fundamental types of objects available in this package.

Blocklist

A SuffixBlocklist holds the static set of blocked domain suffixes. A name is blocked if
it is equal to one of the suffixes or is a subdomain of one.

Classifier

The Classifier decides if a name is blocked and memoizes every decision in a
DecisionCache so a name only ever needs to be matched against the blocklist once.

Upstreams

Upstreams forward allowed queries to the configured resolver over UDP, HTTP/3 or QUIC.
Each upstream holds exactly one connection that is shared by all queries. When that
connection goes away, Run returns and the process is expected to shut down.

Listeners

Listeners receive queries from clients and pass them to the Handler, which negotiates
EDNS, classifies the query, and produces exactly one response for every request.
*/
package ndns
