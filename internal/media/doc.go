// Package media derives assets from stored originals.
//
// A Generator reads an original's intrinsic metadata (width, height, format,
// byte size) with image.DecodeConfig and writes a 200x200 JPEG thumbnail at
// quality 80 that covers the box: the image is scaled to fill it and the
// overflow is cropped around the centre, so there is never letterboxing.
// Thumbnails are written to a temp file and renamed into place.
//
// Decoding goes through disintegration/imaging with the golang.org/x/image
// decoders registered. When InitVips has been called the thumbnail is
// produced by libvips instead, which shrinks during decode.
package media
