// Package integrity builds and verifies checksum manifests over a directory.
//
// A manifest covers every regular file directly inside a directory and is
// persisted as two sidecar files: CHECKSUMS.txt, one "<sha256>  <name>" line
// per file in the format sha256sum understands, and CACHEINFO.txt carrying
// "<name>  size=<bytes>  mtime=<seconds>" lines. Verification re-hashes every
// listed file and reports every problem it finds in a single ValidationError.
// Files present in the directory but absent from the manifest are ignored.
package integrity
